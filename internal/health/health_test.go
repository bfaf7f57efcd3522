package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var res response
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("malformed body %q: %v", rec.Body.String(), err)
	}
	return res
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New()
	h.AddCheck("broken", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	res := decode(t, rec)
	if res.Status != "ok" || res.Uptime == "" {
		t.Errorf("body = %+v", res)
	}
}

func TestReadyzAllChecksPass(t *testing.T) {
	h := New()
	h.AddCheck("llm", func(context.Context) error { return nil })
	h.AddCheck("tools", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	res := decode(t, rec)
	if res.Status != "ok" || res.Checks["llm"] != "ok" || res.Checks["tools"] != "ok" {
		t.Errorf("body = %+v", res)
	}
}

func TestReadyzFailingCheck(t *testing.T) {
	h := New()
	h.AddCheck("llm", func(context.Context) error { return nil })
	h.AddCheck("mcp", func(context.Context) error { return errors.New("not connected") })

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	res := decode(t, rec)
	if res.Status != "fail" {
		t.Errorf("status field = %q", res.Status)
	}
	if res.Checks["llm"] != "ok" || res.Checks["mcp"] != "fail: not connected" {
		t.Errorf("checks = %+v", res.Checks)
	}
}

func TestReadyzNoChecks(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAddCheckReplacesByName(t *testing.T) {
	h := New()
	h.AddCheck("llm", func(context.Context) error { return errors.New("old") })
	h.AddCheck("llm", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 after replacement", rec.Code)
	}
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestCheckReceivesDeadline(t *testing.T) {
	h := New()
	h.AddCheck("deadline", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
