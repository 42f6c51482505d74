// Package api serves a read-only view of the agent's journal.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	sqlitestore "sip-agent/internal/store/sqlite"
)

// Journal is the read side of the SQLite journal.
type Journal interface {
	RecentOutcomes(ctx context.Context, limit int) ([]sqlitestore.OutcomeRecord, error)
	TotalSpentAtoms(ctx context.Context) (int64, error)
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// NewRouter sets up the journal routes:
//
//	GET /api/v1/outcomes?limit=N   newest outcomes first
//	GET /api/v1/spend              total data spend in atoms and USDC
func NewRouter(j Journal) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/outcomes", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxLimit)
		}

		rows, err := j.RecentOutcomes(r.Context(), limit)
		if err != nil {
			slog.Error("api outcomes query", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
			return
		}
		if rows == nil {
			rows = []sqlitestore.OutcomeRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"outcomes": rows})
	})

	mux.HandleFunc("GET /api/v1/spend", func(w http.ResponseWriter, r *http.Request) {
		atoms, err := j.TotalSpentAtoms(r.Context())
		if err != nil {
			slog.Error("api spend query", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"atoms": atoms,
			"usdc":  float64(atoms) / 1e6,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
