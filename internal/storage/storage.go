package storage

import (
	"context"
	"time"
)

// TransferRecord is the persisted outcome of one transfer attempt,
// keyed by its correlation id. Append-only; never mutated after
// creation.
type TransferRecord struct {
	CorrelationID  string
	CreatedAt      time.Time
	ReportedDigest string
	InboundDigest  string
	OutboundDigest string
	Bytes          int64
	Origin         string
}

// TransferWriteRepository persists transfer records.
type TransferWriteRepository interface {
	// SaveTransfer appends one record. Idempotent on the correlation id:
	// saving the same attempt twice leaves exactly one row.
	SaveTransfer(ctx context.Context, record *TransferRecord) error
}

// TransferReadRepository reads transfer records back, e.g. for a later
// stats query against a correlation id handed to a client.
type TransferReadRepository interface {
	GetTransfer(ctx context.Context, correlationID string) (*TransferRecord, error)
}

// TransferRepository combines both sides.
type TransferRepository interface {
	TransferWriteRepository
	TransferReadRepository
}
