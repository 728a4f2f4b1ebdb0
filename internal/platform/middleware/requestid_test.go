package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestContext(e *echo.Echo, header http.Header) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits", nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequestIDHonorsInboundHeader(t *testing.T) {
	e := echo.New()
	c, rec := newTestContext(e, http.Header{RequestIDHeader: []string{"proxy-abc"}})

	h := RequestID()(func(c echo.Context) error { return nil })
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got, _ := c.Get(requestIDKey).(string); got != "proxy-abc" {
		t.Errorf("context request id = %q, want proxy-abc", got)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "proxy-abc" {
		t.Errorf("response header = %q, want proxy-abc", got)
	}
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	e := echo.New()
	c, rec := newTestContext(e, nil)

	h := RequestID()(func(c echo.Context) error { return nil })
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	rid, _ := c.Get(requestIDKey).(string)
	if rid == "" {
		t.Fatal("no request id assigned")
	}
	if got := rec.Header().Get(RequestIDHeader); got != rid {
		t.Errorf("response header = %q, want %q", got, rid)
	}
}

func TestLoggerEmitsRequestID(t *testing.T) {
	e := echo.New()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	c, _ := newTestContext(e, http.Header{RequestIDHeader: []string{"rid-42"}})

	h := RequestID()(Logger(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}))
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	line := buf.String()
	if !strings.Contains(line, `"request_id":"rid-42"`) {
		t.Errorf("log line missing request id: %s", line)
	}
	if !strings.Contains(line, `"status":204`) {
		t.Errorf("log line missing status: %s", line)
	}
}

func TestRecoveryLogsRequestIDAndReturns500(t *testing.T) {
	e := echo.New()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	c, _ := newTestContext(e, http.Header{RequestIDHeader: []string{"rid-99"}})

	h := RequestID()(Recovery(logger)(func(c echo.Context) error {
		panic("boom")
	}))
	err := h(c)

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want 500 HTTPError", err)
	}

	line := buf.String()
	if !strings.Contains(line, `"request_id":"rid-99"`) {
		t.Errorf("log line missing request id: %s", line)
	}
	if !strings.Contains(line, "boom") {
		t.Errorf("log line missing panic value: %s", line)
	}
}
