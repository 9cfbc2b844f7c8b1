package transfer

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/telemetry"
)

// Engine executes one outbound scoped request against the re-encryption
// service and pipes the bytes to the client, digesting both legs as they
// pass. Every attempt, whatever its path, reaches finalization: the
// upstream digest is looked up, the ledger records the attempt, and both
// streams are released.
type Engine struct {
	upstream  Upstream
	ledger    Ledger
	events    EventSink
	telemetry *telemetry.Telemetry
}

// NewEngine creates a streaming proxy engine.
func NewEngine(upstream Upstream, ledger Ledger, events EventSink, tel *telemetry.Telemetry) *Engine {
	return &Engine{
		upstream:  upstream,
		ledger:    ledger,
		events:    events,
		telemetry: tel,
	}
}

// Transfer streams one request to w. The correlation id goes out as a
// response header before any payload byte, so the client can correlate a
// partial transfer even on failure. The returned Result is always
// non-nil and already recorded in the ledger.
func (e *Engine) Transfer(ctx context.Context, req *Request, w http.ResponseWriter) (*Result, error) {
	res := &Result{CorrelationID: uuid.New().String()}
	logger := logctx.LoggerFromContext(ctx).With("file_id", req.FileID, "correlation_id", res.CorrelationID)

	w.Header().Set("X-Session", res.CorrelationID)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	// The request context dies with the client connection. Recording the
	// attempt must not: the ledger row, the audit entries, and the session
	// digest lookup run detached, keeping the context values (the logger,
	// the request id) but not the cancellation.
	recordCtx := context.WithoutCancel(ctx)

	e.telemetry.IncrementActiveDownloads()
	defer e.telemetry.DecrementActiveDownloads()

	start := time.Now()
	defer e.finalize(recordCtx, req, res, start)

	up, err := e.upstream.Stream(ctx, req)
	if err != nil {
		res.StreamErr = &StreamingError{Stage: "open", Err: err}
		e.events.StreamFailed(recordCtx, req, res.StreamErr)
		logger.Error("failed to open upstream stream", "err", err)

		return res, res.StreamErr
	}

	defer up.Body.Close()

	res.SessionHandle = up.SessionHandle

	in := newDigestReader(up.Body)
	out := newDigestWriter(w)

	copied, copyErr := io.Copy(out, in)

	res.Bytes = copied
	res.InboundDigest = in.Sum()
	res.OutboundDigest = out.Sum()

	if copyErr != nil {
		// A write failure here usually means the client went away. The
		// upstream session is already spent, so there is no in-request
		// retry; we fall through to finalization with a failed result.
		res.StreamErr = &StreamingError{Stage: "copy", Err: copyErr}
		e.events.StreamFailed(recordCtx, req, res.StreamErr)
		logger.Error("stream copy failed", "bytes_written", copied, "err", copyErr)

		return res, res.StreamErr
	}

	if res.InboundDigest != res.OutboundDigest {
		// Local corruption or truncation between the two digests. Fatal
		// for this attempt; logged with both values for forensics.
		mismatch := &IntegrityError{Inbound: res.InboundDigest, Outbound: res.OutboundDigest}
		res.StreamErr = &StreamingError{Stage: "copy", Err: mismatch}
		e.events.StreamFailed(recordCtx, req, mismatch)
		logger.Error("local digest mismatch", "inbound", res.InboundDigest, "outbound", res.OutboundDigest)

		return res, res.StreamErr
	}

	logger.Info("stream completed", "bytes", humanize.Bytes(uint64(copied)))

	return res, nil
}

// finalize is the FINALIZED stage: reached on every path. It fetches the
// upstream's reported digest (best effort; absence degrades the attempt
// to unverifiable), computes elapsed time, and hands off to the ledger.
func (e *Engine) finalize(ctx context.Context, req *Request, res *Result, start time.Time) {
	logger := logctx.LoggerFromContext(ctx).With("correlation_id", res.CorrelationID)

	res.Elapsed = time.Since(start)

	if res.SessionHandle != "" {
		sess, err := e.upstream.Session(ctx, res.SessionHandle)
		switch {
		case err != nil:
			logger.Warn("upstream session lookup failed", "session", res.SessionHandle, "err", err)
		case sess != nil:
			res.ReportedDigest = sess.Digest
		}
	}

	success := e.ledger.Record(ctx, req, res)

	status := "failed"
	if success {
		status = "success"
	}

	e.telemetry.RecordDownload(status, res.Elapsed, res.Bytes)

	logger.Info("transfer finalized",
		"success", success,
		"bytes", humanize.Bytes(uint64(res.Bytes)),
		"elapsed", res.Elapsed.String(),
	)
}
