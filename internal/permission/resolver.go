package permission

import (
	"github.com/elixir-ega/dataedge/internal/catalog"
	"github.com/elixir-ega/dataedge/internal/identity"
)

// Decision tags the outcome of a permission resolution. "File unknown"
// and "file known, access denied" are distinct outcomes: they map to
// different client responses and different audit classifications.
type Decision int

const (
	// Granted means the caller may access the file through the bound dataset.
	Granted Decision = iota
	// Denied means the file exists but none of its datasets are authorized.
	Denied
	// NotFound means the catalog knows no such file.
	NotFound
)

// Binding pairs a file with the one dataset the caller is authorized
// against. Exactly one binding is selected per authorized request.
type Binding struct {
	File      *catalog.FileRecord
	DatasetID string
}

// Outcome is the tagged result of Resolve. Binding is set only when
// Decision is Granted.
type Outcome struct {
	Decision Decision
	Binding  *Binding
}

// Resolve decides which of the file's dataset bindings the caller may
// access. Pure: the intersection of the caller's authorized datasets
// with the file's memberships decides everything, and the first dataset
// in catalog order that intersects wins.
func Resolve(id *identity.Identity, file *catalog.FileRecord, fileDatasets []string) Outcome {
	if file == nil {
		return Outcome{Decision: NotFound}
	}

	for _, datasetID := range fileDatasets {
		if id != nil && id.Authorized(datasetID) {
			return Outcome{
				Decision: Granted,
				Binding:  &Binding{File: file, DatasetID: datasetID},
			}
		}
	}

	return Outcome{Decision: Denied}
}
