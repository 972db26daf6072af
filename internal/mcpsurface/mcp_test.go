package mcpsurface

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringsArgAcceptsBothShapes(t *testing.T) {
	assert.Equal(t, []string{"one"}, stringsArg("one"))
	assert.Equal(t, []string{"a", "b"}, stringsArg([]interface{}{"a", "b"}))
	assert.Nil(t, stringsArg(""))
	assert.Nil(t, stringsArg(nil))
	assert.Nil(t, stringsArg(42))
	assert.Equal(t, []string{"a"}, stringsArg([]interface{}{"a", 7, ""}))
}

func TestIntArgCoercions(t *testing.T) {
	assert.Equal(t, 10, intArg(float64(10)))
	assert.Equal(t, 10, intArg(int64(10)))
	assert.Equal(t, 10, intArg(10))
	assert.Zero(t, intArg("10"))
	assert.Zero(t, intArg(nil))
}

func TestConnectionContextPrefersQueryString(t *testing.T) {
	r := httptest.NewRequest("GET", "/mcp/sse?user_id=u1&client_name=agent", nil)
	r.Header.Set("x-user-id", "header-user")

	ctx := connectionContext(context.Background(), r)
	userID, clientName := identityFrom(ctx)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "agent", clientName)
}

func TestConnectionContextFallsBackToHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/mcp/sse", nil)
	r.Header.Set("x-user-id", "header-user")
	r.Header.Set("x-client-name", "header-client")

	ctx := connectionContext(context.Background(), r)
	userID, clientName := identityFrom(ctx)
	assert.Equal(t, "header-user", userID)
	assert.Equal(t, "header-client", clientName)
}
