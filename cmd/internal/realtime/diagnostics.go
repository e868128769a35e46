package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// OnlineHandler serves the registered user ids as a JSON array.
func OnlineHandler(registry *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, registry.Snapshot())
	})
}

// UsersHandler serves every known user id as a JSON array.
func UsersHandler(log *slog.Logger, directory Directory) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids, err := directory.ListUserIDs(r.Context())
		if err != nil {
			log.Error("chat.users.fail", "err", err)
			http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
			return
		}
		if ids == nil {
			ids = []UserID{}
		}
		writeJSON(w, http.StatusOK, ids)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
