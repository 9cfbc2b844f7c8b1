package transfer

import "fmt"

// NotFoundError represents a file, index file, or ticket that is unknown
// to its catalog. Surfaced to clients as 404.
type NotFoundError struct {
	Kind string // what was looked up: "file", "index", "ticket"
	ID   string // the identifier that failed to resolve
	Err  error  // underlying error, if any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// PermissionDeniedError means the caller's authorized datasets do not
// intersect the file's datasets. Surfaced as 403, never as 404: the two
// outcomes carry distinct audit classifications.
type PermissionDeniedError struct {
	FileID string
	Email  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("access to file %s denied", e.FileID)
}

// UnsupportedFormatError means the requested output container is neither
// of the two supported genomic formats. Rejected before any upstream
// call; surfaced as 400.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported container format %q", e.Format)
}

// StreamingError represents any failure during the upstream fetch, the
// digest computation, or the client-side write. The underlying cause is
// logged; clients only see a generic internal failure.
type StreamingError struct {
	Stage string // where the stream broke: "open", "copy", "serialize"
	Err   error  // underlying error, if any
}

func (e *StreamingError) Error() string {
	return fmt.Sprintf("streaming failure during %s", e.Stage)
}

func (e *StreamingError) Unwrap() error {
	return e.Err
}

// IntegrityError is the streaming failure where the digests disagree.
// Both values are carried for forensic comparison: a mismatch indicates
// corruption in transit, the most serious failure this gateway guards
// against.
type IntegrityError struct {
	Inbound  string // digest over bytes received from upstream
	Outbound string // digest over bytes written to the client
	Reported string // digest computed by upstream, via the session handle
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("digest mismatch: inbound=%s outbound=%s reported=%s", e.Inbound, e.Outbound, e.Reported)
}
