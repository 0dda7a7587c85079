package ledger

import (
	"context"
	"sync"

	"github.com/gregtusar/greeks-sentiment/pkg/models"
)

// Memory is an in-process Log, used for dry runs.
type Memory struct {
	mu   sync.Mutex
	rows []models.Aggregate
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, agg models.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, agg)
	return nil
}

func (m *Memory) Rows(ctx context.Context) ([]models.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Aggregate{}, m.rows...), nil
}
