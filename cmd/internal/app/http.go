package app

import (
	"net/http"
	"time"

	"fintrack/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerHTTP(mux *http.ServeMux, a *App) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.dbPool != nil {
			if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if a.redis != nil {
			if err := PingRedis(r.Context(), a.redis, 2*time.Second); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.redis.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{Registry: a.metrics}))

	diag := func(h http.Handler) http.Handler {
		return WithSecurityHeaders(WithCORS(h, a.cfg, a.log))
	}
	mux.Handle("/chat/online", diag(realtime.OnlineHandler(a.registry)))
	mux.Handle("/chat/users", diag(realtime.UsersHandler(a.log, a.directory)))

	mux.Handle("GET /ws", withoutDeadlines(a.ws))
	if a.balance != nil {
		mux.Handle("GET /ws/balance", withoutDeadlines(a.balance))
	}
}
