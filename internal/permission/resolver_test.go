package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elixir-ega/dataedge/internal/catalog"
	"github.com/elixir-ega/dataedge/internal/identity"
	"github.com/elixir-ega/dataedge/internal/permission"
)

func identityWith(datasets ...string) *identity.Identity {
	id := &identity.Identity{
		Email:    "user@example.org",
		Datasets: make(map[string]struct{}, len(datasets)),
		Source:   identity.SourceGrants,
	}
	for _, ds := range datasets {
		id.Datasets[ds] = struct{}{}
	}

	return id
}

func TestResolve(t *testing.T) {
	file := &catalog.FileRecord{FileID: "EGAF001", Size: 100}

	tests := []struct {
		name         string
		id           *identity.Identity
		file         *catalog.FileRecord
		fileDatasets []string
		decision     permission.Decision
		boundDataset string
	}{
		{
			"single intersection",
			identityWith("EGAD001"),
			file,
			[]string{"EGAD001"},
			permission.Granted,
			"EGAD001",
		},
		{
			"first catalog match wins",
			identityWith("EGAD002", "EGAD003"),
			file,
			[]string{"EGAD001", "EGAD003", "EGAD002"},
			permission.Granted,
			"EGAD003",
		},
		{
			"no intersection",
			identityWith("EGAD009"),
			file,
			[]string{"EGAD001", "EGAD002"},
			permission.Denied,
			"",
		},
		{
			"file without datasets",
			identityWith("EGAD001"),
			file,
			nil,
			permission.Denied,
			"",
		},
		{
			"identity without datasets",
			identityWith(),
			file,
			[]string{"EGAD001"},
			permission.Denied,
			"",
		},
		{
			"unknown file",
			identityWith("EGAD001"),
			nil,
			nil,
			permission.NotFound,
			"",
		},
		{
			"nil identity",
			nil,
			file,
			[]string{"EGAD001"},
			permission.Denied,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := permission.Resolve(tt.id, tt.file, tt.fileDatasets)

			assert.Equal(t, tt.decision, outcome.Decision)

			if tt.decision == permission.Granted {
				assert.NotNil(t, outcome.Binding)
				assert.Equal(t, tt.boundDataset, outcome.Binding.DatasetID)
				assert.Equal(t, tt.file, outcome.Binding.File)
			} else {
				assert.Nil(t, outcome.Binding)
			}
		})
	}
}

func TestResolve_DeniedAndNotFoundAreDistinct(t *testing.T) {
	id := identityWith("EGAD001")

	denied := permission.Resolve(id, &catalog.FileRecord{FileID: "EGAF001"}, []string{"EGAD999"})
	missing := permission.Resolve(id, nil, nil)

	assert.NotEqual(t, denied.Decision, missing.Decision)
}
