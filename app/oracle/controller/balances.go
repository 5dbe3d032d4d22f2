package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/canopy-network/twabx/pkg/ledger"
	"github.com/canopy-network/twabx/pkg/twab"
)

// mutationRequest is the body of increase/decrease calls. Amount is a decimal
// string; Time is the caller's 32-bit clock — the oracle never reads a clock
// itself.
type mutationRequest struct {
	Amount string `json:"amount"`
	Time   uint32 `json:"time"`
	Reason string `json:"reason,omitempty"`
}

// HandleIncrease credits an account, creating it on first use.
// Body: {"amount": "100", "time": 1000}
func (c *Controller) HandleIncrease(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	req, amount, ok := c.parseMutation(w, r)
	if !ok {
		return
	}

	details, obs, isNew, err := c.App.Ledger.IncreaseBalance(r.Context(), address, amount, req.Time)
	if err != nil {
		writeMutationError(w, err)
		return
	}

	index, _, _ := c.App.Ledger.NewestObservation(address)
	writeJSON(w, http.StatusOK, mutationResponse{
		Account:     newAccountResponse(address, details),
		Observation: newObservationResponse(index, obs),
		NewRecord:   isNew,
	})
}

// HandleDecrease debits an account.
// Body: {"amount": "100", "time": 1000, "reason": "transfer out"}
func (c *Controller) HandleDecrease(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	req, amount, ok := c.parseMutation(w, r)
	if !ok {
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "balance decrease"
	}

	details, obs, isNew, err := c.App.Ledger.DecreaseBalance(r.Context(), address, amount, reason, req.Time)
	if err != nil {
		writeMutationError(w, err)
		return
	}

	index, _, _ := c.App.Ledger.NewestObservation(address)
	writeJSON(w, http.StatusOK, mutationResponse{
		Account:     newAccountResponse(address, details),
		Observation: newObservationResponse(index, obs),
		NewRecord:   isNew,
	})
}

// deltasRequest is the batch mutation body.
type deltasRequest struct {
	Deltas []struct {
		Address  string `json:"address"`
		Amount   string `json:"amount"`
		Decrease bool   `json:"decrease,omitempty"`
		Reason   string `json:"reason,omitempty"`
		Time     uint32 `json:"time"`
	} `json:"deltas"`
}

type deltaResultResponse struct {
	Address   string `json:"address"`
	NewRecord bool   `json:"newRecord"`
	Error     string `json:"error,omitempty"`
}

const maxBatchDeltas = 10_000

// HandleDeltas applies a batch of balance deltas. Deltas for distinct
// accounts run in parallel; per-account order follows the submitted order.
// Results line up index-for-index with the request.
func (c *Controller) HandleDeltas(w http.ResponseWriter, r *http.Request) {
	var req deltasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Deltas) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(req.Deltas) > maxBatchDeltas {
		writeError(w, http.StatusBadRequest, "batch too large")
		return
	}

	deltas := make([]ledger.Delta, len(req.Deltas))
	for i, d := range req.Deltas {
		if d.Address == "" {
			writeError(w, http.StatusBadRequest, "delta missing address")
			return
		}
		amount, err := uint256.FromDecimal(d.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount: "+d.Amount)
			return
		}
		reason := d.Reason
		if reason == "" {
			reason = "balance decrease"
		}
		deltas[i] = ledger.Delta{
			Address:  d.Address,
			Amount:   amount,
			Decrease: d.Decrease,
			Reason:   reason,
			Time:     d.Time,
		}
	}

	results := c.App.Ledger.ApplyBatch(r.Context(), deltas)

	out := make([]deltaResultResponse, len(results))
	for i, res := range results {
		out[i] = deltaResultResponse{Address: res.Address, NewRecord: res.NewRecord}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

// parseMutation decodes and validates the shared mutation body.
func (c *Controller) parseMutation(w http.ResponseWriter, r *http.Request) (mutationRequest, *uint256.Int, bool) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, nil, false
	}

	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return req, nil, false
	}

	return req, amount, true
}

// writeMutationError maps ledger errors onto HTTP statuses.
func writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, twab.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, twab.ErrNonMonotonicTime):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, twab.ErrBalanceOverflow):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "mutation failed")
	}
}
