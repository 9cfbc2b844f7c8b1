package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elixir-ega/dataedge/internal/storage"
	"github.com/elixir-ega/dataedge/internal/storage/sqlite"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

func newRepo(t *testing.T) *sqlite.TransferRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "transfers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewTransferRepository(db)
}

func TestSaveAndGetTransfer(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	record := &storage.TransferRecord{
		CorrelationID:  "c1",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		ReportedDigest: "abc",
		InboundDigest:  "abc",
		OutboundDigest: "abc",
		Bytes:          2048,
		Origin:         "DIRECT",
	}

	require.NoError(t, repo.SaveTransfer(ctx, record))

	got, err := repo.GetTransfer(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, record.CorrelationID, got.CorrelationID)
	assert.Equal(t, record.ReportedDigest, got.ReportedDigest)
	assert.Equal(t, record.InboundDigest, got.InboundDigest)
	assert.Equal(t, record.OutboundDigest, got.OutboundDigest)
	assert.Equal(t, record.Bytes, got.Bytes)
	assert.Equal(t, record.Origin, got.Origin)
	assert.True(t, record.CreatedAt.Equal(got.CreatedAt))
}

func TestSaveTransfer_IdempotentOnCorrelationID(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first := &storage.TransferRecord{CorrelationID: "c1", CreatedAt: time.Now(), Bytes: 100, Origin: "DIRECT"}
	require.NoError(t, repo.SaveTransfer(ctx, first))

	// A second save under the same id must not overwrite the row.
	second := &storage.TransferRecord{CorrelationID: "c1", CreatedAt: time.Now(), Bytes: 999, Origin: "TICKET"}
	require.NoError(t, repo.SaveTransfer(ctx, second))

	got, err := repo.GetTransfer(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Bytes)
	assert.Equal(t, "DIRECT", got.Origin)
}

func TestGetTransfer_Unknown(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.GetTransfer(context.Background(), "missing")

	var notFound *transfer.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "transfer", notFound.Kind)
}
