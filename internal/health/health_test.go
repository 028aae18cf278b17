package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func up(context.Context) error { return nil }

func decode(t *testing.T, rec *httptest.ResponseRecorder) Report {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "memory", Check: func(context.Context) error { return errors.New("down") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	rep := decode(t, rec)
	if !rep.OK() || len(rep.Checks) != 0 {
		t.Errorf("report = %+v, want bare ok", rep)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	down := errors.New("connection refused")

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "memory", Check: up},
				{Name: "personas", Check: up},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"memory": "", "personas": ""},
		},
		{
			name: "memory down",
			checkers: []Checker{
				PingCheck("memory", pingerFunc(func(context.Context) error { return down })),
				PingCheck("personas", pingerFunc(up)),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"memory": "connection refused", "personas": ""},
		},
		{
			name:       "dependency never configured",
			checkers:   []Checker{PingCheck("personas", nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"personas": "not configured"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			rep := decode(t, rec)
			if rep.OK() != (tt.wantStatus == http.StatusOK) {
				t.Errorf("report status = %q", rep.Status)
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %+v, want %d entries", rep.Checks, len(tt.wantChecks))
			}
			for name, wantErr := range tt.wantChecks {
				got, ok := rep.Checks[name]
				if !ok {
					t.Errorf("check %q missing", name)
					continue
				}
				if got.Error != wantErr || got.OK() != (wantErr == "") {
					t.Errorf("checks[%q] = %+v, want error %q", name, got, wantErr)
				}
			}
		})
	}
}

func TestCheck_RunsConcurrently(t *testing.T) {
	t.Parallel()
	var running, peak atomic.Int32
	slow := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	h := New(
		Checker{Name: "memory", Check: slow},
		Checker{Name: "personas", Check: slow},
		Checker{Name: "transport", Check: slow},
	)

	start := time.Now()
	rep := h.Check(context.Background())
	if !rep.OK() {
		t.Fatalf("report = %+v, want ok", rep)
	}
	if peak.Load() != 3 {
		t.Errorf("peak concurrent checks = %d, want 3", peak.Load())
	}
	if elapsed := time.Since(start); elapsed >= 140*time.Millisecond {
		t.Errorf("Check took %v, checks ran serially", elapsed)
	}
	if got := rep.Checks["memory"].LatencyMS; got < 40 {
		t.Errorf("memory latency = %dms, want about 50", got)
	}
}

func TestCheck_TimesOutHungDependency(t *testing.T) {
	t.Parallel()
	h := New(
		PingCheck("memory", pingerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})),
		Checker{Name: "personas", Check: up},
	).WithTimeout(20 * time.Millisecond)

	rep := h.Check(context.Background())
	if rep.OK() {
		t.Fatal("report ok with a hung dependency")
	}
	if got := rep.Checks["memory"].Error; got != context.DeadlineExceeded.Error() {
		t.Errorf("memory error = %q, want deadline exceeded", got)
	}
	if !rep.Checks["personas"].OK() {
		t.Error("personas should pass independently of memory")
	}
}

func TestReadyz_RespectsRequestCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "memory", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_Routes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "memory", Check: up}).Register(mux)

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/readyz", http.StatusOK},
		{"POST", "/readyz", http.StatusMethodNotAllowed},
		{"GET", "/livez", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}
