package controller

import (
	"github.com/canopy-network/twabx/pkg/twab"
)

// accountResponse is the JSON shape of an account's live metadata. Balances
// and accumulators travel as decimal strings: they are up to 208/224 bits
// wide and would not survive a float64 round-trip.
type accountResponse struct {
	Address     string `json:"address"`
	Balance     string `json:"balance"`
	NextIndex   uint32 `json:"nextIndex"`
	Cardinality uint32 `json:"cardinality"`
}

type observationResponse struct {
	Index     uint32 `json:"index"`
	Amount    string `json:"amount"`
	Timestamp uint32 `json:"timestamp"`
}

type mutationResponse struct {
	Account     accountResponse     `json:"account"`
	Observation observationResponse `json:"observation"`
	NewRecord   bool                `json:"newRecord"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Target  uint32 `json:"target"`
	Balance string `json:"balance"`
}

type averageResponse struct {
	Address string `json:"address"`
	Start   uint32 `json:"start"`
	End     uint32 `json:"end"`
	Average string `json:"average"`
}

func newAccountResponse(address string, details twab.AccountDetails) accountResponse {
	return accountResponse{
		Address:     address,
		Balance:     details.Balance.Dec(),
		NextIndex:   details.NextIndex,
		Cardinality: details.Cardinality,
	}
}

func newObservationResponse(index uint32, obs twab.Observation) observationResponse {
	return observationResponse{
		Index:     index,
		Amount:    obs.Amount.Dec(),
		Timestamp: obs.Timestamp,
	}
}
