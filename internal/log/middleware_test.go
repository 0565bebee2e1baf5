package log

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

func newCapturedLogger(buf *bytes.Buffer) *Logger {
	return New(Config{
		Component: "test",
		Handler:   slog.NewTextHandler(buf, nil),
	})
}

func TestMiddlewareAttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newCapturedLogger(&buf)

	handler := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handled")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2", len(lines))
	}

	idPattern := regexp.MustCompile(`request_id=([0-9a-f-]{36})`)
	var ids []string
	for _, line := range lines {
		m := idPattern.FindStringSubmatch(line)
		if m == nil {
			t.Fatalf("no request id in record: %s", line)
		}
		ids = append(ids, m[1])
	}
	if ids[0] == ids[1] {
		t.Errorf("two requests share request id %s", ids[0])
	}
}

func TestComponentMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := newCapturedLogger(&buf)

	handler := Middleware(logger)(ComponentMiddleware("http")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handled")
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	out := buf.String()
	if !strings.Contains(out, "component=http") {
		t.Errorf("component not tagged: %s", out)
	}
	if !strings.Contains(out, "request_id=") {
		t.Errorf("request id lost through component wrapping: %s", out)
	}
}
