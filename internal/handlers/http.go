package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes is the 10 MiB response-size cap (spec.md §4.7, §8
// boundary behavior: "HTTP response of exactly 10 MiB succeeds; 10 MiB + 1
// byte fails with a size error").
const maxResponseBytes = 10 * 1024 * 1024

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodHead: true, http.MethodOptions: true,
	http.MethodPatch: true,
}

var binaryContentPrefixes = []string{
	"image/", "application/pdf", "application/zip", "application/octet-stream",
	"application/vnd.openxmlformats", "application/msword", "application/vnd.ms-excel",
}

// HTTPHandler implements the HTTP plugin (spec.md §4.7 "HTTP"). Grounded on
// the original `system_plugins/http_plugin.rs` method/body/content-type
// handling; uses a shared *http.Client for connection pooling (spec.md §5
// "Handlers use a shared HTTP client").
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler constructs an HTTPHandler. A nil client installs a
// default with a generous per-request timeout; callers that need custom
// transport (proxies, TLS config) supply their own client.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPHandler{client: client}
}

type httpInput struct {
	Method  string          `json:"method"`
	URL     string          `json:"url"`
	Headers json.RawMessage `json:"headers"`
	Body    json.RawMessage `json:"body"`
}

func (h *HTTPHandler) Handle(ctx context.Context, req Request) (any, error) {
	var in httpInput
	if err := json.Unmarshal(req.Input, &in); err != nil {
		return nil, fmt.Errorf("http: decode input: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if !allowedMethods[method] {
		return nil, fmt.Errorf("http: unsupported method %q", in.Method)
	}

	var bodyReader io.Reader
	bodyBytes, err := resolveBody(in.Body)
	if err != nil {
		return nil, fmt.Errorf("http: resolve body: %w", err)
	}
	if len(bodyBytes) > 0 {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, in.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http: build request: %w", err)
	}
	if err := applyHeaders(httpReq, in.Headers); err != nil {
		return nil, fmt.Errorf("http: headers: %w", err)
	}
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http: request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("http: read response: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("http: response exceeds %d byte cap", maxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http: non-2xx response status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var body any
	if isBinaryContentType(contentType) {
		kind := "binary"
		if strings.HasPrefix(contentType, "image/") {
			kind = "image"
		}
		out := map[string]any{
			"type":         kind,
			"content_type": contentType,
			"size":         len(data),
			"data":         base64.StdEncoding.EncodeToString(data),
		}
		if filename := filenameFromContentDisposition(resp.Header.Get("Content-Disposition")); filename != "" {
			out["filename"] = filename
		}
		body = out
	} else {
		body = textBody(data)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}

// resolveBody accepts a JSON-encoded string or object/empty-object and
// returns the bytes to send. An empty body (absent, null, "", "{}" or an
// empty object) yields nil for every method, not only GET/HEAD/OPTIONS.
func resolveBody(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		trimmed := strings.TrimSpace(asString)
		if trimmed == "" || trimmed == "{}" {
			return nil, nil
		}
		return []byte(asString), nil
	}
	var asObj map[string]any
	if err := json.Unmarshal(raw, &asObj); err == nil {
		if len(asObj) == 0 {
			return nil, nil
		}
		return json.Marshal(asObj)
	}
	return raw, nil
}

func applyHeaders(req *http.Request, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		for k, v := range m {
			req.Header.Set(k, v)
		}
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var nested map[string]string
		if err := json.Unmarshal([]byte(asString), &nested); err != nil {
			return fmt.Errorf("string-encoded headers are not a JSON object: %w", err)
		}
		for k, v := range nested {
			req.Header.Set(k, v)
		}
		return nil
	}
	return fmt.Errorf("headers must be an object or a JSON-encoded string")
}

func isBinaryContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	for _, prefix := range binaryContentPrefixes {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}

// filenameFromContentDisposition extracts the "filename" parameter from a
// Content-Disposition response header (spec.md §4.7 binary/image result
// shape), using the same mime.ParseMediaType helper already relied on for
// content-type sniffing. A missing header or missing parameter yields "".
func filenameFromContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func textBody(data []byte) map[string]any {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		return map[string]any{"type": "json", "data": parsed}
	}
	return map[string]any{"type": "text", "data": string(data)}
}
