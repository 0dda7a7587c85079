package ledger

import (
	"context"
	"fmt"

	"github.com/gregtusar/greeks-sentiment/pkg/models"
)

// Fanout writes the local log first and then the remote mirror.
// A remote failure is reported while the local row stays written.
type Fanout struct {
	local  Log
	remote Log
}

// NewFanout combines a primary log with an optional remote mirror.
func NewFanout(local, remote Log) *Fanout {
	return &Fanout{local: local, remote: remote}
}

func (f *Fanout) Append(ctx context.Context, agg models.Aggregate) error {
	if f.local != nil {
		if err := f.local.Append(ctx, agg); err != nil {
			return fmt.Errorf("local log: %w", err)
		}
	}

	if f.remote != nil {
		if err := f.remote.Append(ctx, agg); err != nil {
			return fmt.Errorf("remote log: %w", err)
		}
	}

	return nil
}

// Rows reads from the local log when present, otherwise from the remote one.
func (f *Fanout) Rows(ctx context.Context) ([]models.Aggregate, error) {
	if f.local != nil {
		return f.local.Rows(ctx)
	}
	if f.remote != nil {
		return f.remote.Rows(ctx)
	}
	return []models.Aggregate{}, nil
}
