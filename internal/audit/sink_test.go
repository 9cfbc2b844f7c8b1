package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elixir-ega/dataedge/internal/audit"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

func TestLogDownload(t *testing.T) {
	var got map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/log/download/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer ts.Close()

	sink := audit.NewSink(ts.URL, nil, nil)

	sink.LogDownload(context.Background(), &audit.DownloadEntry{
		ClientIP:       "10.0.0.1",
		UserEmail:      "user@example.org",
		FileStableID:   "EGAF001",
		DatasetID:      "EGAD001",
		DownloadSpeed:  12.5,
		DownloadStatus: "success",
		EncryptionType: "aes128",
	})

	require.NotNil(t, got)
	assert.Equal(t, "DATAEDGE", got["server"])
	assert.Equal(t, "http", got["downloadProtocol"])
	assert.Equal(t, "user@example.org", got["userEmail"])
	assert.Equal(t, "EGAF001", got["fileStableId"])
	assert.Equal(t, "EGAD001", got["datasetId"])
	assert.Equal(t, "success", got["downloadStatus"])
	assert.NotEmpty(t, got["created"])
}

func TestStreamFailed(t *testing.T) {
	var got map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/log/event/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer ts.Close()

	sink := audit.NewSink(ts.URL, nil, nil)

	sink.StreamFailed(context.Background(), &transfer.Request{
		Email:    "user@example.org",
		FileID:   "EGAF001",
		ClientIP: "10.0.0.1",
		Ticket:   "abc-123",
		Origin:   transfer.OriginTicketed,
	}, errors.New("broken pipe"))

	require.NotNil(t, got)
	assert.Equal(t, "Error", got["eventType"])
	assert.Equal(t, "broken pipe", got["event"])
	assert.Equal(t, "abc-123", got["downloadTicket"])
	assert.Equal(t, "user@example.org", got["email"])
	assert.Equal(t, "10.0.0.1", got["clientIp"])
}

func TestStreamFailed_OriginFallsBackAsContext(t *testing.T) {
	var got map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer ts.Close()

	sink := audit.NewSink(ts.URL, nil, nil)

	sink.StreamFailed(context.Background(), &transfer.Request{
		Email:  "user@example.org",
		FileID: "EGAF001",
		Origin: transfer.OriginDirect,
	}, errors.New("broken pipe"))

	require.NotNil(t, got)
	assert.Equal(t, string(transfer.OriginDirect), got["downloadTicket"])
}

func TestLogDownload_UnreachableSinkDoesNotPanic(t *testing.T) {
	sink := audit.NewSink("http://127.0.0.1:1", nil, nil)

	assert.NotPanics(t, func() {
		sink.LogDownload(context.Background(), &audit.DownloadEntry{UserEmail: "user@example.org"})
	})
}
