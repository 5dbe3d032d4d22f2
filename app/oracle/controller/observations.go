package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// HandleOldestObservation returns the oldest stored observation for an
// account, with the ring-buffer slot it occupies.
func (c *Controller) HandleOldestObservation(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	index, obs, err := c.App.Ledger.OldestObservation(address)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newObservationResponse(index, obs))
}

// HandleNewestObservation returns the newest stored observation for an
// account, with the ring-buffer slot it occupies.
func (c *Controller) HandleNewestObservation(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	index, obs, err := c.App.Ledger.NewestObservation(address)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newObservationResponse(index, obs))
}

const (
	defaultObservationLimit = 100
	maxObservationLimit     = 10_000
)

// HandleObservations returns an account's archived observation history,
// oldest first. Requires the ClickHouse archive; the in-memory ring only
// keeps the retention window's worth of history.
// Query parameters:
//   - limit: max rows (default 100, capped at 10000)
func (c *Controller) HandleObservations(w http.ResponseWriter, r *http.Request) {
	if c.App.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "observation archive not available")
		return
	}

	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	limit := defaultObservationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxObservationLimit {
			n = maxObservationLimit
		}
		limit = n
	}

	rows, err := c.App.Archive.QueryObservations(r.Context(), address, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":      address,
		"observations": rows,
	})
}
