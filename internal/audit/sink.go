package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/resilience"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// DownloadEntry is the audit record for one transfer attempt, success or
// failure. Append-only on the collaborator side.
type DownloadEntry struct {
	DownloadLogID    int64     `json:"downloadLogId"`
	ClientIP         string    `json:"clientIp"`
	Server           string    `json:"server"`
	UserEmail        string    `json:"userEmail"`
	FileStableID     string    `json:"fileStableId"`
	DatasetID        string    `json:"datasetId"`
	DownloadSpeed    float64   `json:"downloadSpeed"`
	DownloadStatus   string    `json:"downloadStatus"`
	DownloadProtocol string    `json:"downloadProtocol"`
	EncryptionType   string    `json:"encryptionType"`
	Created          time.Time `json:"created"`
}

// EventEntry is the audit record for a failure event, carrying the
// failure description and the ticket or request context it happened in.
type EventEntry struct {
	EventID        string    `json:"eventId"`
	ClientIP       string    `json:"clientIp"`
	Event          string    `json:"event"`
	EventType      string    `json:"eventType"`
	DownloadTicket string    `json:"downloadTicket"`
	Email          string    `json:"email"`
	Created        time.Time `json:"created"`
}

// serverTag identifies this gateway in audit records.
const serverTag = "DATAEDGE"

// Sink emits download-outcome and event records to the external logging
// collaborator. Emission is best effort: an unreachable collaborator is
// logged, never surfaced to the client.
type Sink struct {
	baseURL string
	client  *http.Client
	retrier *resilience.Retrier
}

// NewSink creates an audit sink posting to the logging collaborator.
func NewSink(baseURL string, httpClient *http.Client, retrier *resilience.Retrier) *Sink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Sink{baseURL: baseURL, client: httpClient, retrier: retrier}
}

// LogDownload emits one DownloadEntry.
func (s *Sink) LogDownload(ctx context.Context, entry *DownloadEntry) {
	entry.Server = serverTag
	entry.DownloadProtocol = "http"

	if entry.Created.IsZero() {
		entry.Created = time.Now()
	}

	s.post(ctx, "/log/download/", entry)
}

// LogEvent emits one EventEntry.
func (s *Sink) LogEvent(ctx context.Context, entry *EventEntry) {
	entry.EventType = "Error"

	if entry.Created.IsZero() {
		entry.Created = time.Now()
	}

	s.post(ctx, "/log/event/", entry)
}

// StreamFailed implements the engine's event sink: exactly one event
// entry per failed stream.
func (s *Sink) StreamFailed(ctx context.Context, req *transfer.Request, cause error) {
	ticket := req.Ticket
	if ticket == "" {
		ticket = string(req.Origin)
	}

	s.LogEvent(ctx, &EventEntry{
		EventID:        "0",
		ClientIP:       req.ClientIP,
		Event:          cause.Error(),
		DownloadTicket: ticket,
		Email:          req.Email,
	})
}

func (s *Sink) post(ctx context.Context, path string, payload interface{}) {
	logger := logctx.LoggerFromContext(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal audit entry", "path", path, "err", err)

		return
	}

	fn := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create audit request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to post audit entry: %w", err)
		}

		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("audit sink returned status %d", resp.StatusCode)
		}

		return nil
	}

	if s.retrier != nil {
		err = s.retrier.Do(ctx, "audit_post", fn)
	} else {
		err = fn(ctx)
	}

	if err != nil {
		logger.Error("failed to emit audit entry", "path", path, "err", err)
	}
}
