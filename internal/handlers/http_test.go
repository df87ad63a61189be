package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/handlers"
)

func TestHTTPHandler_GETReturnsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := handlers.NewHTTPHandler(nil)
	input, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, 200, m["status_code"])
	body := m["body"].(map[string]any)
	assert.Equal(t, "json", body["type"])
	assert.Equal(t, map[string]any{"ok": true}, body["data"])
}

func TestHTTPHandler_RejectsUnsupportedMethod(t *testing.T) {
	h := handlers.NewHTTPHandler(nil)
	input, _ := json.Marshal(map[string]any{"method": "TRACE", "url": "https://example.test"})
	_, err := h.Handle(context.Background(), handlers.Request{Input: input})
	assert.Error(t, err)
}

func TestHTTPHandler_BinaryContentTypeIsBase64Encoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer srv.Close()

	h := handlers.NewHTTPHandler(nil)
	input, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)

	body := out.(map[string]any)["body"].(map[string]any)
	assert.Equal(t, "image", body["type"])
	assert.NotEmpty(t, body["data"])
}

func TestHTTPHandler_BinaryContentTypeExtractsFilenameFromContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.Write([]byte{0x25, 0x50, 0x44, 0x46})
	}))
	defer srv.Close()

	h := handlers.NewHTTPHandler(nil)
	input, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)

	body := out.(map[string]any)["body"].(map[string]any)
	assert.Equal(t, "binary", body["type"])
	assert.Equal(t, "report.pdf", body["filename"])
}

func TestHTTPHandler_BinaryContentTypeWithoutContentDispositionOmitsFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer srv.Close()

	h := handlers.NewHTTPHandler(nil)
	input, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)

	body := out.(map[string]any)["body"].(map[string]any)
	_, ok := body["filename"]
	assert.False(t, ok)
}

func TestHTTPHandler_ResponseOverCapFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 10*1024*1024+1))
	}))
	defer srv.Close()

	h := handlers.NewHTTPHandler(nil)
	input, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	_, err := h.Handle(context.Background(), handlers.Request{Input: input})
	assert.Error(t, err)
}

func TestHTTPHandler_ResponseAtExactCapSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write(make([]byte, 10*1024*1024))
	}))
	defer srv.Close()

	h := handlers.NewHTTPHandler(nil)
	input, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	_, err := h.Handle(context.Background(), handlers.Request{Input: input})
	assert.NoError(t, err)
}
