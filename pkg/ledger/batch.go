package ledger

import (
	"context"
	"runtime"

	"github.com/alitto/pond/v2"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Delta is one balance mutation inside a batch.
type Delta struct {
	Address  string
	Amount   *uint256.Int
	Decrease bool
	Reason   string
	Time     uint32
}

// DeltaResult reports the outcome for the delta at the same position in the
// submitted batch.
type DeltaResult struct {
	Address   string
	NewRecord bool
	Err       error
}

// ApplyBatch applies a batch of deltas, fanning out across accounts on a
// shared worker pool. Deltas for the same address keep their submitted order;
// distinct addresses are applied concurrently. Results line up index-for-index
// with the input.
func (l *Ledger) ApplyBatch(ctx context.Context, deltas []Delta) []DeltaResult {
	results := make([]DeltaResult, len(deltas))
	if len(deltas) == 0 {
		return results
	}

	// Group positions by address so per-account ordering survives the fan-out.
	byAddress := make(map[string][]int)
	for i, d := range deltas {
		byAddress[d.Address] = append(byAddress[d.Address], i)
	}

	group := l.batchPool().NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, positions := range byAddress {
		positions := positions
		group.Submit(func() {
			for _, i := range positions {
				if err := groupCtx.Err(); err != nil {
					results[i] = DeltaResult{Address: deltas[i].Address, Err: err}
					continue
				}
				results[i] = l.applyDelta(groupCtx, deltas[i])
			}
		})
	}

	if err := group.Wait(); err != nil {
		l.logger.Warn("batch apply interrupted", zap.Int("deltas", len(deltas)), zap.Error(err))
	}

	return results
}

func (l *Ledger) applyDelta(ctx context.Context, d Delta) DeltaResult {
	var (
		isNew bool
		err   error
	)
	if d.Decrease {
		_, _, isNew, err = l.DecreaseBalance(ctx, d.Address, d.Amount, d.Reason, d.Time)
	} else {
		_, _, isNew, err = l.IncreaseBalance(ctx, d.Address, d.Amount, d.Time)
	}
	return DeltaResult{Address: d.Address, NewRecord: isNew, Err: err}
}

// batchPool lazily builds the shared worker pool for batch application.
func (l *Ledger) batchPool() pond.Pool {
	l.poolOnce.Do(func() {
		workers := l.workers
		if workers <= 0 {
			workers = runtime.NumCPU() * 2
			if workers < 2 {
				workers = 2
			}
		}
		l.pool = pond.NewPool(workers)
	})
	return l.pool
}
