// Package system registers the management endpoints: liveness, readiness,
// and Prometheus metrics. Readiness additionally reports the embedding
// backend's health once a prober is installed.
package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registryroute "github.com/memforge/memforge/internal/registry/route"
)

var ready atomic.Bool

var embedProbe atomic.Pointer[registryembed.Embedder]

// MarkReady signals that the service has finished initializing and is ready
// to serve traffic. Call this once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// SetEmbedderProbe installs the embedder whose HealthCheck backs /readyz.
func SetEmbedderProbe(e registryembed.Embedder) {
	embedProbe.Store(&e)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			// Liveness: process is up
			r.GET("/healthz", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			// Readiness: initialization complete and embedding backend reachable
			r.GET("/readyz", func(c *gin.Context) {
				if !ready.Load() {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
					return
				}
				body := gin.H{"status": "ready"}
				if p := embedProbe.Load(); p != nil {
					health := (*p).HealthCheck(c.Request.Context())
					body["embedding"] = gin.H{
						"ok":        health.OK,
						"model":     health.Model,
						"dim":       health.Dim,
						"latencyMs": health.LatencyMs,
						"error":     health.Error,
					}
					if !health.OK {
						c.JSON(http.StatusServiceUnavailable, body)
						return
					}
				}
				c.JSON(http.StatusOK, body)
			})

			// Prometheus metrics
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
