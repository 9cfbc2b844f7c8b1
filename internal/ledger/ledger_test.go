package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elixir-ega/dataedge/internal/audit"
	"github.com/elixir-ega/dataedge/internal/ledger"
	"github.com/elixir-ega/dataedge/internal/storage"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

type fakeRepo struct {
	saved   []*storage.TransferRecord
	saveErr error
}

func (f *fakeRepo) SaveTransfer(ctx context.Context, record *storage.TransferRecord) error {
	f.saved = append(f.saved, record)

	return f.saveErr
}

type fakeDownloads struct {
	entries []*audit.DownloadEntry
}

func (f *fakeDownloads) LogDownload(ctx context.Context, entry *audit.DownloadEntry) {
	f.entries = append(f.entries, entry)
}

func request() *transfer.Request {
	return &transfer.Request{
		Email:             "user@example.org",
		FileID:            "EGAF001",
		DatasetID:         "EGAD001",
		DestinationFormat: "aes128",
		ClientIP:          "10.0.0.1",
		Origin:            transfer.OriginDirect,
	}
}

func TestRecord(t *testing.T) {
	tests := []struct {
		name    string
		res     *transfer.Result
		success bool
	}{
		{
			"all digests equal",
			&transfer.Result{
				CorrelationID:  "c1",
				Bytes:          1024,
				Elapsed:        time.Second,
				InboundDigest:  "abc",
				OutboundDigest: "abc",
				ReportedDigest: "abc",
			},
			true,
		},
		{
			"no upstream digest is unverifiable",
			&transfer.Result{
				CorrelationID:  "c2",
				Bytes:          1024,
				Elapsed:        time.Second,
				InboundDigest:  "abc",
				OutboundDigest: "abc",
			},
			false,
		},
		{
			"reported digest disagrees",
			&transfer.Result{
				CorrelationID:  "c3",
				Bytes:          1024,
				Elapsed:        time.Second,
				InboundDigest:  "abc",
				OutboundDigest: "abc",
				ReportedDigest: "zzz",
			},
			false,
		},
		{
			"stream error",
			&transfer.Result{
				CorrelationID: "c4",
				StreamErr:     &transfer.StreamingError{Stage: "copy", Err: errors.New("broken pipe")},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{}
			downloads := &fakeDownloads{}
			l := ledger.New(repo, downloads, nil)

			success := l.Record(context.Background(), request(), tt.res)

			assert.Equal(t, tt.success, success)

			// Exactly one record and one download entry per attempt,
			// whatever the outcome.
			require.Len(t, repo.saved, 1)
			require.Len(t, downloads.entries, 1)

			record := repo.saved[0]
			assert.Equal(t, tt.res.CorrelationID, record.CorrelationID)
			assert.Equal(t, tt.res.InboundDigest, record.InboundDigest)
			assert.Equal(t, tt.res.OutboundDigest, record.OutboundDigest)
			assert.Equal(t, tt.res.ReportedDigest, record.ReportedDigest)
			assert.Equal(t, string(transfer.OriginDirect), record.Origin)

			entry := downloads.entries[0]
			assert.Equal(t, "user@example.org", entry.UserEmail)
			assert.Equal(t, "EGAF001", entry.FileStableID)
			assert.Equal(t, "EGAD001", entry.DatasetID)
			assert.Equal(t, "10.0.0.1", entry.ClientIP)
			assert.Equal(t, "aes128", entry.EncryptionType)

			if tt.success {
				assert.Equal(t, "success", entry.DownloadStatus)
			} else {
				assert.Equal(t, "failed", entry.DownloadStatus)
			}
		})
	}
}

func TestRecord_RepoFailureStillAudits(t *testing.T) {
	repo := &fakeRepo{saveErr: errors.New("disk full")}
	downloads := &fakeDownloads{}
	l := ledger.New(repo, downloads, nil)

	success := l.Record(context.Background(), request(), &transfer.Result{
		CorrelationID:  "c5",
		InboundDigest:  "abc",
		OutboundDigest: "abc",
		ReportedDigest: "abc",
	})

	assert.True(t, success)
	assert.Len(t, downloads.entries, 1)
}

func TestThroughput(t *testing.T) {
	const mb = 1024 * 1024

	tests := []struct {
		name    string
		bytes   int64
		elapsed time.Duration
		want    float64
	}{
		{"one MB per second", mb, time.Second, 1.0},
		{"zero elapsed floors to 1ms", mb, 0, 1000.0},
		{"sub-millisecond floors to 1ms", mb, 100 * time.Microsecond, 1000.0},
		{"zero bytes", 0, time.Second, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ledger.Throughput(tt.bytes, tt.elapsed), 0.0001)
		})
	}
}
