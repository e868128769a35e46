package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lockedBuffer lets a server goroutine log while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Contains(sub string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), []byte(sub))
}

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 101, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "1xx"},
		{status: 204, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 304, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 429, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
		{status: 42, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "unknown"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		require.Equal(t, tc.wantLevel, level, "status=%d", tc.status)
		require.Equal(t, tc.wantResult, result, "status=%d", tc.status)
		require.Equal(t, tc.wantClass, statusClass(tc.status), "status=%d", tc.status)
	}
}

func TestWithRequestLogging_RecordsStatusAndBytes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("directory unavailable"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/users", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "http.request", entry["msg"])
	require.Equal(t, "ERROR", entry["level"])
	require.Equal(t, "/chat/users", entry["path"])
	require.Equal(t, float64(503), entry["status"])
	require.Equal(t, "server_error", entry["result"])
	require.Equal(t, float64(len("directory unavailable")), entry["bytes"])
}

func TestWithRequestLogging_PreservesHijacker(t *testing.T) {
	t.Parallel()

	var buf lockedBuffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "no hijacker", http.StatusInternalServerError)
			return
		}
		c, _, err := hj.Hijack()
		if err != nil {
			return
		}
		_ = c.Close()
	}), log)

	srv := httptest.NewServer(h)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/ws")
	if err == nil {
		_ = res.Body.Close()
	}

	require.Eventually(t, func() bool { return buf.Contains(`"result":"upgraded"`) },
		time.Second, 10*time.Millisecond)
}

func TestWithCORS(t *testing.T) {
	t.Parallel()

	cfg := Config{
		CORSAllowedOrigins:   []string{"https://app.fintrack.example", "http://localhost:*"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}

	cases := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllowed string
		wantNext    bool
	}{
		{name: "no origin passes", method: http.MethodGet, wantStatus: http.StatusOK, wantNext: true},
		{name: "exact origin", method: http.MethodGet, origin: "https://app.fintrack.example", wantStatus: http.StatusOK, wantAllowed: "https://app.fintrack.example", wantNext: true},
		{name: "wildcard port", method: http.MethodGet, origin: "http://localhost:5173", wantStatus: http.StatusOK, wantAllowed: "http://localhost:5173", wantNext: true},
		{name: "scheme mismatch", method: http.MethodGet, origin: "https://localhost:5173", wantStatus: http.StatusForbidden},
		{name: "unknown origin", method: http.MethodGet, origin: "https://evil.example", wantStatus: http.StatusForbidden},
		{name: "preflight", method: http.MethodOptions, origin: "https://app.fintrack.example", preflight: true, wantStatus: http.StatusNoContent, wantAllowed: "https://app.fintrack.example"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			called := false
			h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}), cfg, discardLogger())

			req := httptest.NewRequest(tc.method, "/chat/online", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
				req.Header.Set("Access-Control-Request-Headers", "Authorization")
			}

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			require.Equal(t, tc.wantStatus, rr.Code)
			require.Equal(t, tc.wantNext, called)
			require.Equal(t, tc.wantAllowed, rr.Header().Get("Access-Control-Allow-Origin"))
			if tc.wantAllowed != "" {
				require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
			}
			if tc.preflight {
				require.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
				require.Equal(t, "Authorization", rr.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/online", nil))

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
}

func TestWithoutDeadlines_CallsNext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewUnstartedServer(withoutDeadlines(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	})))
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "late", string(body))
}
