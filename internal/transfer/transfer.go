package transfer

import (
	"context"
	"io"
	"time"
)

// Origin tags how a transfer request entered the gateway.
type Origin string

const (
	OriginDirect   Origin = "DIRECT"
	OriginTicketed Origin = "TICKET"
)

// Request holds the fully specified parameters of one transfer. It is
// created either directly from request parameters or by resolving a
// one-time ticket; after that it never changes.
type Request struct {
	Email             string
	FileID            string
	DatasetID         string
	DestinationFormat string
	DestinationKey    string

	// Byte-range bounds against the archive object. The 0,0 pair is the
	// whole-file sentinel and is omitted from the upstream request.
	StartCoordinate int64
	EndCoordinate   int64

	ClientIP string
	Ticket   string // audit context: the ticket id, or a fixed direct-download tag
	Origin   Origin
}

// WholeFile reports whether the request carries the 0,0 sentinel.
func (r *Request) WholeFile() bool {
	return r.StartCoordinate == 0 && r.EndCoordinate == 0
}

// Result is the outcome of one transfer attempt. Ephemeral; the ledger
// turns it into a persisted TransferRecord.
type Result struct {
	CorrelationID  string
	Bytes          int64
	Elapsed        time.Duration
	SessionHandle  string
	InboundDigest  string
	OutboundDigest string
	ReportedDigest string
	StreamErr      error
}

// Verified reports whether both hops were lossless: the upstream-reported
// digest matches what the gateway received, and what the gateway received
// matches what it wrote to the client. An absent reported digest is
// unverifiable and therefore not a success.
func (r *Result) Verified() bool {
	if r.ReportedDigest == "" || r.InboundDigest == "" {
		return false
	}

	return r.ReportedDigest == r.InboundDigest && r.InboundDigest == r.OutboundDigest
}

// Upstream is the narrow view of the re-encryption service the engine
// needs: open one scoped byte stream, and look up the digest the service
// computed over it.
type Upstream interface {
	Stream(ctx context.Context, req *Request) (*UpstreamStream, error)
	Session(ctx context.Context, handle string) (*SessionRecord, error)
}

// UpstreamStream is an open connection to the re-encryption service.
type UpstreamStream struct {
	Body          io.ReadCloser
	SessionHandle string
}

// SessionRecord is the upstream's view of a finished transfer.
type SessionRecord struct {
	Digest string `json:"digest"`
	Bytes  int64  `json:"bytes"`
}

// Ledger declares transfer success or failure and persists the attempt.
type Ledger interface {
	Record(ctx context.Context, req *Request, res *Result) bool
}

// EventSink receives stream-failure events for the audit trail.
type EventSink interface {
	StreamFailed(ctx context.Context, req *Request, cause error)
}
