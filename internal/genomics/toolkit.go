package genomics

import (
	"io"
)

// Format is an output container format for coordinate-scoped access.
type Format string

const (
	FormatBAM  Format = "bam"
	FormatCRAM Format = "cram"
)

// ParseFormat validates a requested container format.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatBAM, "BAM", "Bam":
		return FormatBAM, true
	case FormatCRAM, "CRAM", "Cram":
		return FormatCRAM, true
	default:
		return "", false
	}
}

// Source is a seekable byte source over one archived file. The range
// reader over the re-encryption service satisfies it.
type Source interface {
	io.ReadSeeker
	io.Closer
}

// Query is one coordinate-scoped interval against a named reference
// sequence.
type Query struct {
	Reference string
	Start     int
	End       int
}

// Reference describes one reference sequence found in a container
// header.
type Reference struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
}

// HeaderInfo is the parsed container header.
type HeaderInfo struct {
	Text       string      `json:"text"`
	References []Reference `json:"references"`
}

// Toolkit is the genomics-format collaborator. The gateway treats it as
// a black box: given seekable byte sources for a file and its index, it
// can read the container header, query an interval, and re-serialize the
// matched records. Binary-format fidelity is its responsibility alone.
type Toolkit interface {
	Header(data Source) (*HeaderInfo, error)
	Slice(data, index Source, q Query, format Format, out io.Writer) error
}
