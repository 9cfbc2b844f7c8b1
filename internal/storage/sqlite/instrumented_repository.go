package sqlite

import (
	"context"
	"time"

	"github.com/elixir-ega/dataedge/internal/storage"
	"github.com/elixir-ega/dataedge/internal/telemetry"
)

// InstrumentedTransferRepository wraps a TransferRepository with telemetry.
type InstrumentedTransferRepository struct {
	repo storage.TransferRepository
	tel  *telemetry.Telemetry
}

// NewInstrumentedTransferRepository creates a new instrumented repository.
func NewInstrumentedTransferRepository(repo storage.TransferRepository, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{repo: repo, tel: tel}
}

// SaveTransfer persists one record with telemetry.
func (r *InstrumentedTransferRepository) SaveTransfer(ctx context.Context, record *storage.TransferRecord) error {
	start := time.Now()
	err := r.repo.SaveTransfer(ctx, record)

	r.tel.RecordDBOperation("save_transfer", statusOf(err), time.Since(start))

	return err
}

// GetTransfer reads one record with telemetry.
func (r *InstrumentedTransferRepository) GetTransfer(ctx context.Context, correlationID string) (*storage.TransferRecord, error) {
	start := time.Now()
	record, err := r.repo.GetTransfer(ctx, correlationID)

	r.tel.RecordDBOperation("get_transfer", statusOf(err), time.Since(start))

	return record, err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
