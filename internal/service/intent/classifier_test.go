package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

type stubProvider struct {
	resp registryllm.ChatResponse
	err  error
}

func (s *stubProvider) Chat(ctx context.Context, req registryllm.ChatRequest) (registryllm.ChatResponse, error) {
	return s.resp, s.err
}
func (s *stubProvider) ModelName() string { return "stub" }

func TestFastPathInvalidate(t *testing.T) {
	c := New(nil)
	got := c.Classify(context.Background(), "forget what I said about my old job")
	assert.Equal(t, Invalidate, got.Kind)
	assert.NotEmpty(t, got.Target)
}

func TestFastPathDeleteEntity(t *testing.T) {
	c := New(nil)
	got := c.Classify(context.Background(), "please delete entity Acme Corp")
	assert.Equal(t, DeleteEntity, got.Kind)
	assert.Equal(t, "Acme Corp", got.EntityName)
}

func TestFastPathStopTrackingIsDeleteEntity(t *testing.T) {
	c := New(nil)
	got := c.Classify(context.Background(), "stop tracking Bob")
	assert.Equal(t, DeleteEntity, got.Kind)
	assert.Equal(t, "Bob", got.EntityName)
}

func TestFastPathResolve(t *testing.T) {
	c := New(nil)
	got := c.Classify(context.Background(), "the bug has been fixed")
	assert.Equal(t, Resolve, got.Kind)
}

func TestFastPathTouch(t *testing.T) {
	c := New(nil)
	got := c.Classify(context.Background(), "still relevant, confirmed")
	assert.Equal(t, Touch, got.Kind)
}

func TestFastPathDefaultsToStoreWithNoLLM(t *testing.T) {
	c := New(nil)
	got := c.Classify(context.Background(), "I love hiking in the mountains")
	assert.Equal(t, Store, got.Kind)
}

func TestSlowPathParsesLLMResponse(t *testing.T) {
	stub := &stubProvider{resp: registryllm.ChatResponse{Text: `{"intent":"INVALIDATE","target":"my address"}`}}
	c := New(stub)
	got := c.Classify(context.Background(), "that's not true anymore")
	assert.Equal(t, Invalidate, got.Kind)
	assert.Equal(t, "my address", got.Target)
}

func TestSlowPathFailsOpenOnLLMError(t *testing.T) {
	stub := &stubProvider{err: assertError()}
	c := New(stub)
	got := c.Classify(context.Background(), "something ambiguous here")
	assert.Equal(t, Store, got.Kind)
}

func TestSlowPathFailsOpenOnMissingCompanionField(t *testing.T) {
	stub := &stubProvider{resp: registryllm.ChatResponse{Text: `{"intent":"DELETE_ENTITY","entityName":""}`}}
	c := New(stub)
	got := c.Classify(context.Background(), "something ambiguous here")
	require.Equal(t, Store, got.Kind)
}

func assertError() error {
	return &testError{"boom"}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
