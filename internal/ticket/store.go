package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/resilience"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// ticketRecord mirrors the ticketing collaborator's wire format. The
// ticket is the authorization artifact: the destination key was fixed at
// issuance, so no further permission check happens at download time.
type ticketRecord struct {
	Email           string `json:"email"`
	DownloadTicket  string `json:"downloadTicket"`
	ClientIP        string `json:"clientIp"`
	FileID          string `json:"fileId"`
	EncryptionKey   string `json:"encryptionKey"`
	EncryptionType  string `json:"encryptionType"`
	StartCoordinate int64  `json:"startCoordinate"`
	EndCoordinate   int64  `json:"endCoordinate"`
}

// Store resolves one-time tickets against the ticketing collaborator and
// deletes them after a successful transfer.
type Store struct {
	baseURL string
	client  *http.Client
	retrier *resilience.Retrier
}

// NewStore creates a ticket store client.
func NewStore(baseURL string, httpClient *http.Client, retrier *resilience.Retrier) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Store{baseURL: baseURL, client: httpClient, retrier: retrier}
}

// Resolve maps an opaque ticket to the fully specified transfer request
// it was issued for. Unknown or expired tickets yield a NotFoundError.
func (s *Store) Resolve(ctx context.Context, ticketID string) (*transfer.Request, error) {
	var record *ticketRecord

	fn := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/request/ticket/"+url.PathEscape(ticketID)+"/", nil)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create ticket request: %w", err))
		}

		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to resolve ticket: %w", err)
		}

		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return resilience.Permanent(&transfer.NotFoundError{Kind: "ticket", ID: ticketID})
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ticket service returned status %d", resp.StatusCode)
		}

		record = &ticketRecord{}
		if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
			return fmt.Errorf("failed to decode ticket: %w", err)
		}

		return nil
	}

	var err error
	if s.retrier != nil {
		err = s.retrier.Do(ctx, "ticket_resolve", fn)
	} else {
		err = fn(ctx)
	}

	if err != nil {
		return nil, err
	}

	if record.FileID == "" {
		return nil, &transfer.NotFoundError{Kind: "ticket", ID: ticketID}
	}

	return &transfer.Request{
		Email:             record.Email,
		FileID:            record.FileID,
		DestinationFormat: record.EncryptionType,
		DestinationKey:    record.EncryptionKey,
		StartCoordinate:   record.StartCoordinate,
		EndCoordinate:     record.EndCoordinate,
		ClientIP:          record.ClientIP,
		Ticket:            ticketID,
		Origin:            transfer.OriginTicketed,
	}, nil
}

// Consume deletes the ticket. Called only after the ledger declared the
// transfer successful; a failed transfer leaves the ticket resolvable so
// the client can retry. Deletion is irreversible, so it is never
// retried.
func (s *Store) Consume(ctx context.Context, email, ticketID string) error {
	logger := logctx.LoggerFromContext(ctx)

	uri := s.baseURL + "/request/" + url.PathEscape(email) + "/ticket/" + url.PathEscape(ticketID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uri, nil)
	if err != nil {
		return fmt.Errorf("failed to create ticket delete request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to consume ticket: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ticket delete returned status %d", resp.StatusCode)
	}

	logger.Info("ticket consumed", "ticket", ticketID)

	return nil
}
