package core

import (
	"context"
	"net/http"
	"time"
)

// Pinger is the minimal health-check dependency, satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthResponse is the body returned by the health endpoint.
type healthResponse struct {
	OK       bool   `json:"ok"`
	Database string `json:"database"`
}

// HealthHandler reports process liveness and database reachability.
// A failing database ping yields 503 so the scheduler's monitoring can
// distinguish "service down" from "jobs returning errors".
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			JSON(w, r, http.StatusServiceUnavailable, healthResponse{
				OK:       false,
				Database: "unreachable",
			})
			return
		}

		JSON(w, r, http.StatusOK, healthResponse{
			OK:       true,
			Database: "ok",
		})
	}
}
