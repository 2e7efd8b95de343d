package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/idclinic/idclinic/internal/platform/auth"
)

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	return entry
}

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	err := RequestID()(func(c echo.Context) error {
		seen = c.Get(RequestIDKey).(string)
		return okHandler(c)
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Error("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header %q does not match %q", rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()

	RequestID()(okHandler)(e.NewContext(req, rec))

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
	rec := httptest.NewRecorder()

	RequestID()(okHandler)(e.NewContext(req, rec))

	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("expected a generated uuid, got %q", got)
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "nurse-07", []string{auth.RoleStaff}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(RequestIDKey, "req-1")

	if err := Logger(logger)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := lastLogLine(t, &buf)
	if entry["level"] != "info" || entry["status"] != float64(200) {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["request_id"] != "req-1" || entry["user_id"] != "nurse-07" || entry["path"] != "/api/v1/patients" {
		t.Errorf("missing request fields: %v", entry)
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  float64
	}{
		{"client error", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "nope") }, "warn", 404},
		{"server error", func(echo.Context) error { return errors.New("boom") }, "error", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), httptest.NewRecorder())

			Logger(zerolog.New(&buf))(tt.handler)(c)

			entry := lastLogLine(t, &buf)
			if entry["level"] != tt.level || entry["status"] != tt.status {
				t.Errorf("got level %v status %v, want %s %v", entry["level"], entry["status"], tt.level, tt.status)
			}
		})
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error { panic("test panic") })(c)

	expectStatus(t, err, http.StatusInternalServerError)
	if entry := lastLogLine(t, &buf); entry["panic"] != "test panic" {
		t.Errorf("panic not logged: %v", entry)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())

	if err := Recovery(zerolog.Nop())(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	SecurityHeaders()(okHandler)(c)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS header")
	}
}

func TestRequestTimeout(t *testing.T) {
	e := echo.New()
	slow := func(c echo.Context) error {
		select {
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), httptest.NewRecorder())
	expectStatus(t, RequestTimeout(10*time.Millisecond)(slow)(c), http.StatusGatewayTimeout)

	// a wrapped failure after the deadline still reads as a timeout
	wrapped := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), httptest.NewRecorder())
	expectStatus(t, RequestTimeout(10*time.Millisecond)(wrapped)(c), http.StatusGatewayTimeout)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), httptest.NewRecorder())
	expectStatus(t, RequestTimeout(time.Second)(func(echo.Context) error {
		return echo.ErrNotFound
	})(c), http.StatusNotFound)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), httptest.NewRecorder())
	if err := RequestTimeout(time.Second)(okHandler)(c); err != nil {
		t.Errorf("fast handler should pass, got %v", err)
	}

	var hasDeadline bool
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/import/patients", nil), httptest.NewRecorder())
	RequestTimeout(time.Millisecond, "/api/v1/import/")(func(c echo.Context) error {
		_, hasDeadline = c.Request().Context().Deadline()
		return nil
	})(c)
	if hasDeadline {
		t.Error("skipped prefix should not get a deadline")
	}
}

func TestRequestTimeout_PanicReachesRecovery(t *testing.T) {
	e := echo.New()
	e.Use(Recovery(zerolog.Nop()))
	e.Use(RequestTimeout(time.Second))
	e.GET("/boom", func(echo.Context) error { panic("bad date") })
	e.GET("/ok", okHandler)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from a panicking handler, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("server should keep serving after a panic, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	e := echo.New()
	readAll := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}
	mw := BodyLimit("10", "1K", "/api/v1/import/")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(strings.Repeat("a", 11)))
	expectStatus(t, mw(readAll)(e.NewContext(req, httptest.NewRecorder())), http.StatusRequestEntityTooLarge)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(strings.Repeat("a", 11)))
	req.ContentLength = -1
	expectStatus(t, mw(readAll)(e.NewContext(req, httptest.NewRecorder())), http.StatusRequestEntityTooLarge)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(strings.Repeat("a", 10)))
	if err := mw(readAll)(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Errorf("body at the limit should pass, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/import/patients", strings.NewReader(strings.Repeat("a", 500)))
	if err := mw(readAll)(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Errorf("upload prefix should use the upload limit, got %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 1 << 20},
		{"2048", 2048},
		{"512K", 512 << 10},
		{"512kb", 512 << 10},
		{"20M", 20 << 20},
		{"20MB", 20 << 20},
		{"1G", 1 << 30},
		{"lots", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.in); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/patients/42", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "dr-1", []string{auth.RoleAdmin}))
	rec := httptest.NewRecorder()

	err := Audit(zerolog.New(&buf))(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })(e.NewContext(req, rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := lastLogLine(t, &buf)
	if entry["action"] != "delete" || entry["patient_id"] != "42" || entry["user_id"] != "dr-1" || entry["level"] != "warn" {
		t.Errorf("unexpected audit entry %v", entry)
	}

	buf.Reset()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil), httptest.NewRecorder())
	Audit(zerolog.New(&buf))(okHandler)(c)
	if buf.Len() != 0 {
		t.Errorf("dashboard should not be audited, got %s", buf.String())
	}
}

func TestPatientIDFromPath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/patients":           "",
		"/api/v1/patients/7":         "7",
		"/api/v1/patients/7/summary": "7",
		"/api/v1/patients/hn/HN001":  "",
		"/api/v1/import/patients":    "",
	}
	for path, want := range tests {
		if got := patientIDFromPath(path); got != want {
			t.Errorf("patientIDFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
