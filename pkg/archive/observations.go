package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/canopy-network/twabx/pkg/ledger"
)

// Row is one archived observation as stored in ClickHouse. Accumulator and
// balance values are decimal strings: they are 224/208-bit quantities and the
// archive only needs them round-trippable, not arithmetic.
type Row struct {
	Address     string    `ch:"address" json:"address"`
	Timestamp   uint32    `ch:"timestamp" json:"timestamp"`
	Amount      string    `ch:"amount" json:"amount"`
	Balance     string    `ch:"balance" json:"balance"`
	Cardinality uint32    `ch:"cardinality" json:"cardinality"`
	RecordedAt  time.Time `ch:"recorded_at" json:"recordedAt"`
}

// InsertEvents batch-appends drained ledger events to the observation log.
func (c *Client) InsertEvents(ctx context.Context, events []ledger.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO "%s"."%s" (address, timestamp, amount, balance, cardinality, recorded_at) VALUES`,
		c.Name, ObservationsTableName,
	)
	batch, err := c.Db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	now := time.Now().UTC()
	for _, event := range events {
		if err := batch.Append(
			event.Address,
			event.Timestamp,
			event.Amount,
			event.Balance,
			event.Cardinality,
			now,
		); err != nil {
			return err
		}
	}

	return batch.Send()
}

// QueryObservations returns the archived history for an address, oldest
// first, capped at limit rows.
func (c *Client) QueryObservations(ctx context.Context, address string, limit int) ([]*Row, error) {
	query := fmt.Sprintf(
		`SELECT address, timestamp, amount, balance, cardinality, recorded_at
		 FROM "%s"."%s" FINAL
		 WHERE address = ?
		 ORDER BY timestamp ASC
		 LIMIT ?`,
		c.Name, ObservationsTableName,
	)

	rows, err := c.Db.Query(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("query observations for %s: %w", address, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Row
	for rows.Next() {
		row := &Row{}
		if err := rows.ScanStruct(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	return out, rows.Err()
}
