package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/canopy-network/twabx/pkg/ledger"
	"github.com/canopy-network/twabx/pkg/twab"
)

// HandleAccountDetails returns an account's live metadata.
func (c *Controller) HandleAccountDetails(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	details, err := c.App.Ledger.Details(address)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(address, details))
}

// HandleBalanceAt answers "what was this account's balance at time T".
// Query parameters:
//   - at: the 32-bit target timestamp (required)
//   - now: the caller's current 32-bit time (required; the oracle has no clock)
func (c *Controller) HandleBalanceAt(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	target, ok := parseTimeParam(w, r, "at")
	if !ok {
		return
	}
	now, ok := parseTimeParam(w, r, "now")
	if !ok {
		return
	}

	balance, err := c.App.Ledger.GetBalanceAt(address, target, now)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Address: address,
		Target:  target,
		Balance: balance.Dec(),
	})
}

// HandleAverageBalance answers "what was this account's time-weighted average
// balance between T1 and T2".
// Query parameters:
//   - start, end: the 32-bit interval bounds (required; end is clamped to now)
//   - now: the caller's current 32-bit time (required)
func (c *Controller) HandleAverageBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	start, ok := parseTimeParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end")
	if !ok {
		return
	}
	now, ok := parseTimeParam(w, r, "now")
	if !ok {
		return
	}

	average, err := c.App.Ledger.GetAverageBalanceBetween(address, start, end, now)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, averageResponse{
		Address: address,
		Start:   start,
		End:     end,
		Average: average.Dec(),
	})
}

// parseTimeParam reads a required 32-bit timestamp query parameter.
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (uint32, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeError(w, http.StatusBadRequest, "missing "+name+" parameter")
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" parameter")
		return 0, false
	}
	return uint32(n), true
}

// writeQueryError maps ledger query errors onto HTTP statuses.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, twab.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}
