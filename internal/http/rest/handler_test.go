package rest_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elixir-ega/dataedge/internal/audit"
	"github.com/elixir-ega/dataedge/internal/catalog"
	"github.com/elixir-ega/dataedge/internal/genomics"
	"github.com/elixir-ega/dataedge/internal/http/rest"
	"github.com/elixir-ega/dataedge/internal/identity"
	"github.com/elixir-ega/dataedge/internal/ledger"
	"github.com/elixir-ega/dataedge/internal/projection"
	"github.com/elixir-ega/dataedge/internal/res"
	"github.com/elixir-ega/dataedge/internal/storage"
	"github.com/elixir-ega/dataedge/internal/ticket"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

const payload = "re-encrypted bytes"

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))

	return hex.EncodeToString(sum[:])
}

// upstreamStub stands in for the re-encryption service.
type upstreamStub struct {
	payload  string
	handle   string
	digest   string
	requests []*transfer.Request
}

func (u *upstreamStub) Stream(ctx context.Context, req *transfer.Request) (*transfer.UpstreamStream, error) {
	u.requests = append(u.requests, req)

	return &transfer.UpstreamStream{
		Body:          io.NopCloser(strings.NewReader(u.payload)),
		SessionHandle: u.handle,
	}, nil
}

func (u *upstreamStub) Session(ctx context.Context, handle string) (*transfer.SessionRecord, error) {
	if u.digest == "" {
		return nil, fmt.Errorf("no session %s", handle)
	}

	return &transfer.SessionRecord{Digest: u.digest, Bytes: int64(len(u.payload))}, nil
}

type memRepo struct {
	records []*storage.TransferRecord
}

func (m *memRepo) SaveTransfer(ctx context.Context, record *storage.TransferRecord) error {
	m.records = append(m.records, record)

	return nil
}

// harness wires a full gateway around stubbed collaborators: a catalog
// plus ticketing plus audit server on one mux, and a stubbed upstream.
type harness struct {
	upstream *upstreamStub
	repo     *memRepo
	server   *httptest.Server

	ticketDeletes int
}

func newHarness(t *testing.T, upstream *upstreamStub) *harness {
	t.Helper()

	h := &harness{upstream: upstream, repo: &memRepo{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/file/EGAF001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"fileId": "EGAF001", "fileName": "sample.bam", "fileSize": 2048}]`)
	})
	mux.HandleFunc("/file/EGAF001/datasets", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"fileId": "EGAF001", "datasetId": "EGAD001"}]`)
	})
	mux.HandleFunc("/file/EGAF001/index", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"fileId": "EGAF001", "indexFileId": "EGAF002"}]`)
	})
	mux.HandleFunc("/file/EGAF002", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"fileId": "EGAF002", "fileName": "sample.bam.bai", "fileSize": 256}]`)
	})
	mux.HandleFunc("/request/ticket/abc-123/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"email": "owner@example.org", "downloadTicket": "abc-123", "fileId": "EGAF001", "encryptionType": "aes128", "encryptionKey": "key"}`)
	})
	mux.HandleFunc("/request/owner@example.org/ticket/abc-123", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			h.ticketDeletes++
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/log/download/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/log/event/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	collab := httptest.NewServer(mux)
	t.Cleanup(collab.Close)

	sink := audit.NewSink(collab.URL, nil, nil)
	cat := catalog.NewClient(collab.URL, nil, nil, nil, nil, catalog.Options{})
	tickets := ticket.NewStore(collab.URL, nil, nil)

	led := ledger.New(h.repo, sink, nil)
	engine := transfer.NewEngine(upstream, led, sink, nil)

	resClient := res.NewClient(collab.URL, nil, nil, nil, nil)
	projector := projection.NewProjector(cat, resClient, genomics.NewHTS(""))

	identities := identity.NewResolver("", 0)

	handler := rest.NewHandler(cat, engine, projector, tickets, identities, sink, nil)
	h.server = httptest.NewServer(handler.Routes())
	t.Cleanup(h.server.Close)

	return h
}

func (h *harness) get(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func authorized() map[string]string {
	return map[string]string{
		"X-User-Email":    "user@example.org",
		"X-Dataset-Grants": "EGAD001",
	}
}

func TestDownloadFile(t *testing.T) {
	upstream := &upstreamStub{payload: payload, handle: "sess-1", digest: md5hex(payload)}
	h := newHarness(t, upstream)

	resp := h.get(t, "/files/EGAF001?destinationKey=key&startCoordinate=10&endCoordinate=99", authorized())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Session"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))

	require.Len(t, upstream.requests, 1)
	req := upstream.requests[0]
	assert.Equal(t, "user@example.org", req.Email)
	assert.Equal(t, "EGAF001", req.FileID)
	assert.Equal(t, "EGAD001", req.DatasetID)
	assert.Equal(t, "aes128", req.DestinationFormat)
	assert.Equal(t, "key", req.DestinationKey)
	assert.Equal(t, int64(10), req.StartCoordinate)
	assert.Equal(t, int64(99), req.EndCoordinate)
	assert.Equal(t, transfer.OriginDirect, req.Origin)

	// Exactly one ledger record for the attempt.
	require.Len(t, h.repo.records, 1)
	assert.Equal(t, md5hex(payload), h.repo.records[0].InboundDigest)
}

func TestDownloadFile_MissingIdentity(t *testing.T) {
	h := newHarness(t, &upstreamStub{payload: payload})

	resp := h.get(t, "/files/EGAF001", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, h.upstream.requests)
}

func TestDownloadFile_Denied(t *testing.T) {
	h := newHarness(t, &upstreamStub{payload: payload})

	resp := h.get(t, "/files/EGAF001", map[string]string{
		"X-User-Email":    "user@example.org",
		"X-Dataset-Grants": "EGAD999",
	})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, h.upstream.requests)
}

func TestDownloadFile_UnknownFile(t *testing.T) {
	h := newHarness(t, &upstreamStub{payload: payload})

	resp := h.get(t, "/files/EGAF404", authorized())

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadFile_InvalidCoordinates(t *testing.T) {
	h := newHarness(t, &upstreamStub{payload: payload})

	resp := h.get(t, "/files/EGAF001?startCoordinate=banana", authorized())

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.upstream.requests)
}

func TestFileSize(t *testing.T) {
	h := newHarness(t, &upstreamStub{payload: payload})

	req, err := http.NewRequest(http.MethodHead, h.server.URL+"/files/EGAF001", nil)
	require.NoError(t, err)
	for k, v := range authorized() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2048", resp.Header.Get("Content-Length"))
}

func TestFileSlice_Validation(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unknown format", "/files/byid/file?accession=EGAF001&format=vcf&chr=chr1&start=0&end=100"},
		{"missing accession", "/files/byid/file?format=bam&chr=chr1"},
		{"missing reference", "/files/byid/file?accession=EGAF001&format=bam"},
		{"unknown id type", "/files/byid/dataset?accession=EGAF001&format=bam&chr=chr1"},
		{"negative interval", "/files/byid/file?accession=EGAF001&format=bam&chr=chr1&start=-5"},
		{"inverted interval", "/files/byid/file?accession=EGAF001&format=bam&chr=chr1&start=200&end=100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &upstreamStub{payload: payload})

			resp := h.get(t, tt.path, authorized())

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, h.upstream.requests)
		})
	}
}

func TestFileSlice_CramWithoutReference(t *testing.T) {
	h := newHarness(t, &upstreamStub{payload: payload})

	resp := h.get(t, "/files/byid/file?accession=EGAF001&format=cram&chr=chr1&start=0&end=100", authorized())

	// Deterministic failure before any payload byte, never a silent
	// fallback to BAM output.
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestTicketedDownload_ConsumesOnSuccess(t *testing.T) {
	upstream := &upstreamStub{payload: payload, handle: "sess-1", digest: md5hex(payload)}
	h := newHarness(t, upstream)

	resp := h.get(t, "/download/abc-123", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))

	require.Len(t, upstream.requests, 1)
	assert.Equal(t, "owner@example.org", upstream.requests[0].Email)
	assert.Equal(t, transfer.OriginTicketed, upstream.requests[0].Origin)

	assert.Equal(t, 1, h.ticketDeletes)
}

func TestTicketedDownload_UnverifiedLeavesTicket(t *testing.T) {
	// Upstream never reports a digest: the transfer is unverifiable and
	// must not consume the ticket.
	upstream := &upstreamStub{payload: payload, handle: "sess-1"}
	h := newHarness(t, upstream)

	resp := h.get(t, "/download/abc-123", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, h.ticketDeletes)
}

func TestTicketedDownload_UnknownTicket(t *testing.T) {
	h := newHarness(t, &upstreamStub{payload: payload})

	resp := h.get(t, "/download/nope", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, h.upstream.requests)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, &upstreamStub{})

	resp := h.get(t, "/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
