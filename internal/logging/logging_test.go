package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	Init(Config{Level: "info"})
	assert.Equal(t, zapcore.InfoLevel, Level())

	SetLevel("debug")
	assert.Equal(t, zapcore.DebugLevel, Level())

	SetLevel("not-a-level")
	assert.Equal(t, zapcore.DebugLevel, Level())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileroom.log")
	l, _ := New(Config{Level: "info", File: path})
	l.Info("hello file", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello file")
	assert.Contains(t, string(b), `"k":"v"`)
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	Init(Config{})
	assert.Same(t, L(), FromContext(context.Background()))

	child := L().With(zap.String("x", "y"))
	ctx := WithLogger(context.Background(), child)
	assert.Same(t, child, FromContext(ctx))
}

func TestMiddlewareRequestID(t *testing.T) {
	Init(Config{Level: "error"})
	var sawLogger bool
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawLogger = r.Context().Value(loggerKey).(*zap.Logger)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.True(t, sawLogger)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
