package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsTraceAndModule(t *testing.T) {
	l := New("test", "debug", "json")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithModuleID(ctx, "core.settings")

	l.WithContext(ctx).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "trace-123")
	assert.Contains(t, out, "core.settings")
	assert.Contains(t, out, "hello")
}

func TestNewTraceIDIsUnique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}

func TestTraceIDFromEmptyContext(t *testing.T) {
	assert.Equal(t, "", TraceIDFrom(context.Background()))
}
