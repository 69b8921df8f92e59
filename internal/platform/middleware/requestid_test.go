package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	got := rec.Header().Get(RequestIDHeader)
	if got == "" {
		t.Fatal("no request id on response")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("generated request id is not a uuid: %q", got)
	}
}

func TestRequestIDPreservesClientValue(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())

	var seen string
	e.GET("/", func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-id")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "client-supplied-id" {
		t.Errorf("response header = %q", rec.Header().Get(RequestIDHeader))
	}
	if seen != "client-supplied-id" {
		t.Errorf("context value = %q", seen)
	}
}
