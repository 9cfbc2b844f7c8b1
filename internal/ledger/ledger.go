package ledger

import (
	"context"
	"time"

	"github.com/elixir-ega/dataedge/internal/audit"
	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/storage"
	"github.com/elixir-ega/dataedge/internal/telemetry"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// minElapsed floors the duration used for throughput, so sub-millisecond
// transfers never divide by zero.
const minElapsed = time.Millisecond

// DownloadLogger is the slice of the audit sink the ledger needs.
type DownloadLogger interface {
	LogDownload(ctx context.Context, entry *audit.DownloadEntry)
}

// Ledger is the single place that declares a transfer attempt successful
// or failed. It cross-checks the three digests, persists exactly one
// TransferRecord per attempt, and emits exactly one download audit entry.
type Ledger struct {
	repo      storage.TransferWriteRepository
	downloads DownloadLogger
	tel       *telemetry.Telemetry
}

// New creates a transfer ledger.
func New(repo storage.TransferWriteRepository, downloads DownloadLogger, tel *telemetry.Telemetry) *Ledger {
	return &Ledger{repo: repo, downloads: downloads, tel: tel}
}

// Record persists the attempt and reports whether it succeeded. Success
// requires a clean stream and all three digests equal; an absent
// upstream digest is unverifiable and therefore failed, even when every
// byte was copied.
func (l *Ledger) Record(ctx context.Context, req *transfer.Request, res *transfer.Result) bool {
	logger := logctx.LoggerFromContext(ctx).With("correlation_id", res.CorrelationID)

	success := res.StreamErr == nil && res.Verified()

	if res.StreamErr == nil && !success {
		if res.ReportedDigest == "" {
			logger.Warn("transfer unverifiable: no upstream digest", "session", res.SessionHandle)
			l.tel.RecordIntegrityFailure("unverifiable")
		} else {
			logger.Error("digest mismatch against upstream",
				"inbound", res.InboundDigest,
				"outbound", res.OutboundDigest,
				"reported", res.ReportedDigest,
			)
			l.tel.RecordIntegrityFailure("reported_mismatch")
		}
	}

	record := &storage.TransferRecord{
		CorrelationID:  res.CorrelationID,
		CreatedAt:      time.Now(),
		ReportedDigest: res.ReportedDigest,
		InboundDigest:  res.InboundDigest,
		OutboundDigest: res.OutboundDigest,
		Bytes:          res.Bytes,
		Origin:         string(req.Origin),
	}

	if err := l.repo.SaveTransfer(ctx, record); err != nil {
		// The attempt still finishes; a ledger row we failed to write is
		// logged loudly rather than crashing a finished stream.
		logger.Error("failed to persist transfer record", "err", err)
	}

	status := "failed"
	if success {
		status = "success"
	}

	l.downloads.LogDownload(ctx, &audit.DownloadEntry{
		ClientIP:       req.ClientIP,
		UserEmail:      req.Email,
		FileStableID:   req.FileID,
		DatasetID:      req.DatasetID,
		DownloadSpeed:  Throughput(res.Bytes, res.Elapsed),
		DownloadStatus: status,
		EncryptionType: req.DestinationFormat,
	})

	return success
}

// Throughput computes MB/s over a floored elapsed time, so the value is
// always finite.
func Throughput(bytes int64, elapsed time.Duration) float64 {
	if elapsed < minElapsed {
		elapsed = minElapsed
	}

	return (float64(bytes) / (1024.0 * 1024.0)) / elapsed.Seconds()
}
