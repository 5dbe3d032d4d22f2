package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/canopy-network/twabx/app/oracle/types"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	// Mutations
	r.HandleFunc("/accounts/{address}/increase", c.HandleIncrease).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{address}/decrease", c.HandleDecrease).Methods(http.MethodPost)
	r.HandleFunc("/accounts/deltas", c.HandleDeltas).Methods(http.MethodPost)

	// Queries
	r.HandleFunc("/accounts/{address}", c.HandleAccountDetails).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/balance", c.HandleBalanceAt).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/average", c.HandleAverageBalance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/observations", c.HandleObservations).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/observations/oldest", c.HandleOldestObservation).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/observations/newest", c.HandleNewestObservation).Methods(http.MethodGet)

	// Real-time events
	r.HandleFunc("/ws", c.HandleWebSocket)

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
