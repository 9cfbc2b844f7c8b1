package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/elixir-ega/dataedge/internal/storage"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// TransferRepository persists transfer records in SQLite.
type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(dbConn *sql.DB) *TransferRepository {
	return &TransferRepository{db: dbConn}
}

// SaveTransfer appends one attempt. INSERT OR IGNORE keeps the table
// append-only and idempotent on the correlation id.
func (r *TransferRepository) SaveTransfer(ctx context.Context, record *storage.TransferRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transfers
			(correlation_id, created_at, reported_digest, inbound_digest, outbound_digest, bytes, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.CorrelationID,
		record.CreatedAt.Format(time.RFC3339Nano),
		record.ReportedDigest,
		record.InboundDigest,
		record.OutboundDigest,
		record.Bytes,
		record.Origin,
	)

	return err
}

// GetTransfer returns the record stored under correlationID.
func (r *TransferRepository) GetTransfer(ctx context.Context, correlationID string) (*storage.TransferRecord, error) {
	var (
		record    storage.TransferRecord
		createdAt string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT correlation_id, created_at, reported_digest, inbound_digest, outbound_digest, bytes, origin
		FROM transfers WHERE correlation_id = ?
	`, correlationID).Scan(
		&record.CorrelationID,
		&createdAt,
		&record.ReportedDigest,
		&record.InboundDigest,
		&record.OutboundDigest,
		&record.Bytes,
		&record.Origin,
	)
	if err == sql.ErrNoRows {
		return nil, &transfer.NotFoundError{Kind: "transfer", ID: correlationID, Err: err}
	}

	if err != nil {
		return nil, err
	}

	if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
		record.CreatedAt = ts
	}

	return &record, nil
}
