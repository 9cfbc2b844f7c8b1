package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/elixir-ega/dataedge/internal/genomics"
	"github.com/elixir-ega/dataedge/internal/identity"
	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/permission"
	"github.com/elixir-ega/dataedge/internal/projection"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// Default destination encryption when the client does not pick one.
const defaultDestinationFormat = "aes128"

// HandleDownloadFile streams a whole file or a byte range of it.
func (h *Handler) HandleDownloadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromContext(ctx)

	binding, err := h.authorize(ctx, id, fileIDParam(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	start, err := coordinateParam(r, "startCoordinate")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}
	end, err := coordinateParam(r, "endCoordinate")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	req := &transfer.Request{
		Email:             id.Email,
		FileID:            binding.File.FileID,
		DatasetID:         binding.DatasetID,
		DestinationFormat: destinationFormatParam(r),
		DestinationKey:    r.URL.Query().Get("destinationKey"),
		StartCoordinate:   start,
		EndCoordinate:     end,
		ClientIP:          clientIP(r),
		Ticket:            "direct",
		Origin:            transfer.OriginDirect,
	}

	res, err := h.engine.Transfer(ctx, req, w)
	if err != nil && res.Bytes == 0 {
		writeError(w, r, err)
	}
}

// HandleFileSize answers a HEAD request with the resolved archive size.
func (h *Handler) HandleFileSize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromContext(ctx)

	binding, err := h.authorize(ctx, id, fileIDParam(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(binding.File.Size, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
}

// HandleFileHeader serves the parsed container header of a file.
func (h *Handler) HandleFileHeader(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromContext(ctx)

	binding, err := h.authorize(ctx, id, fileIDParam(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	info, err := h.projector.Header(ctx, binding.File)
	if err != nil {
		writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(info); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode header response", "err", err)
	}
}

// HandleFileSlice streams the records overlapping a genomic interval,
// re-serialized in the requested container format. Format validation
// happens before any upstream call.
func (h *Handler) HandleFileSlice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromContext(ctx)

	if idType := chi.URLParam(r, "idType"); idType != "file" {
		http.Error(w, fmt.Sprintf("unknown id type %q", idType), http.StatusBadRequest)

		return
	}

	accession := r.URL.Query().Get("accession")
	if accession == "" {
		http.Error(w, "accession is required", http.StatusBadRequest)

		return
	}

	formatParam := r.URL.Query().Get("format")
	if formatParam == "" {
		formatParam = string(genomics.FormatBAM)
	}

	format, ok := genomics.ParseFormat(formatParam)
	if !ok {
		writeError(w, r, &transfer.UnsupportedFormatError{Format: formatParam})

		return
	}

	reference := r.URL.Query().Get("chr")
	if reference == "" {
		http.Error(w, "chr is required", http.StatusBadRequest)

		return
	}

	start, err := intervalParam(r, "start")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}
	end, err := intervalParam(r, "end")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if end < start {
		http.Error(w, "end must not precede start", http.StatusBadRequest)

		return
	}

	binding, err := h.authorize(ctx, id, accession)
	if err != nil {
		writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")

	cw := &countingWriter{w: w}
	preq := projection.Request{
		FileID:    binding.File.FileID,
		Format:    format,
		Reference: reference,
		Start:     start,
		End:       end,
	}

	if err := h.projector.Project(ctx, binding.File, preq, cw); err != nil {
		h.events.StreamFailed(ctx, &transfer.Request{
			Email:     id.Email,
			FileID:    binding.File.FileID,
			DatasetID: binding.DatasetID,
			ClientIP:  clientIP(r),
			Ticket:    "byid",
			Origin:    transfer.OriginDirect,
		}, err)

		if cw.n == 0 {
			writeError(w, r, err)

			return
		}

		// Payload already underway; the broken stream is the signal.
		logctx.LoggerFromContext(ctx).Error("projection failed mid-stream",
			"file_id", binding.File.FileID, "bytes_written", cw.n, "err", err)
	}
}

// authorize loads the file and its dataset memberships and resolves the
// caller's access. The returned binding carries the file record with
// its size already backfilled.
func (h *Handler) authorize(ctx context.Context, id *identity.Identity, fileID string) (*permission.Binding, error) {
	file, err := h.catalog.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	datasets, err := h.catalog.GetDatasets(ctx, fileID)
	if err != nil {
		var notFound *transfer.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// A file without dataset memberships resolves to a denial, not
		// a lookup failure.
		datasets = nil
	}

	outcome := permission.Resolve(id, file, datasets)
	switch outcome.Decision {
	case permission.Granted:
		return outcome.Binding, nil
	case permission.NotFound:
		return nil, &transfer.NotFoundError{Kind: "file", ID: fileID}
	default:
		return nil, &transfer.PermissionDeniedError{FileID: fileID, Email: id.Email}
	}
}

func destinationFormatParam(r *http.Request) string {
	if f := r.URL.Query().Get("destinationFormat"); f != "" {
		return f
	}

	return defaultDestinationFormat
}

func coordinateParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}

	return v, nil
}

func intervalParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}

	return v, nil
}

type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)

	return n, err
}
