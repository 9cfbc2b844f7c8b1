package res

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/resilience"
	"github.com/elixir-ega/dataedge/internal/telemetry"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// SessionHeader carries the upstream session handle on stream responses.
// It is the only channel by which the gateway learns the upstream's view
// of a transfer.
const SessionHeader = "X-Session"

// Client talks to the re-encryption service ("RES"): it opens scoped
// byte streams over archived files, reports per-session digests, and
// answers authoritative size queries.
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	retrier *resilience.Retrier
	tel     *telemetry.Telemetry
}

// NewClient creates a RES client. httpClient carries credentials and
// instrumentation; pass nil for a plain 30s-timeout client. The timeout
// applies to control calls only, not to payload streams.
func NewClient(baseURL string, httpClient *http.Client, streamClient *http.Client, retrier *resilience.Retrier, tel *telemetry.Telemetry) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
		retrier: retrier,
		tel:     tel,
	}

	if streamClient != nil {
		c.stream = streamClient
	} else {
		c.stream = &http.Client{}
	}

	return c
}

// Stream opens the re-encrypted byte stream for one transfer request.
// The session handle is read from the response headers before any
// payload byte is consumed.
func (c *Client) Stream(ctx context.Context, req *transfer.Request) (*transfer.UpstreamStream, error) {
	logger := logctx.LoggerFromContext(ctx)

	uri := c.archiveURI(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/octet-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		c.tel.RecordClientOperation("res", "stream", "error")

		return nil, fmt.Errorf("failed to open archive stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		c.tel.RecordClientOperation("res", "stream", "error")

		return nil, fmt.Errorf("archive stream returned status %d", resp.StatusCode)
	}

	handle := resp.Header.Get(SessionHeader)
	if handle == "" {
		logger.Warn("archive stream carries no session handle", "file_id", req.FileID)
	}

	c.tel.RecordClientOperation("res", "stream", "success")

	return &transfer.UpstreamStream{Body: resp.Body, SessionHandle: handle}, nil
}

// Session fetches the digest record the upstream computed for a finished
// stream. Best effort: the ledger treats absence as unverifiable.
func (c *Client) Session(ctx context.Context, handle string) (*transfer.SessionRecord, error) {
	var record transfer.SessionRecord

	err := c.do(ctx, "session", c.baseURL+"/session/"+url.PathEscape(handle)+"/", &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// ArchiveSize returns the authoritative size of an archived file,
// consulted when the catalog has no recorded size.
func (c *Client) ArchiveSize(ctx context.Context, fileID string) (int64, error) {
	var size int64

	err := c.do(ctx, "size", c.baseURL+"/file/archive/"+url.PathEscape(fileID)+"/size", &size)
	if err != nil {
		return 0, err
	}

	return size, nil
}

// archiveURI builds the upstream request URI. The AES alias maps to the
// fixed aes128 cipher, the plain format omits key material, and the 0,0
// sentinel pair is omitted rather than sent as an explicit zero range.
func (c *Client) archiveURI(req *transfer.Request) string {
	format := req.DestinationFormat
	if format == "AES" {
		format = "aes128"
	}

	q := url.Values{}
	q.Set("destinationFormat", format)

	if format != "plain" && req.DestinationKey != "" {
		q.Set("destinationKey", req.DestinationKey)
	}

	if !req.WholeFile() {
		q.Set("startCoordinate", strconv.FormatInt(req.StartCoordinate, 10))
		q.Set("endCoordinate", strconv.FormatInt(req.EndCoordinate, 10))
	}

	return c.baseURL + "/file/archive/" + url.PathEscape(req.FileID) + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, operation, uri string, out interface{}) error {
	fn := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("res %s call failed: %w", operation, err)
		}

		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return resilience.Permanent(fmt.Errorf("res %s returned 404", operation))
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("res %s returned status %d", operation, resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode res %s response: %w", operation, err)
		}

		return nil
	}

	var err error
	if c.retrier != nil {
		err = c.retrier.Do(ctx, "res_"+operation, fn)
	} else {
		err = fn(ctx)
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	c.tel.RecordClientOperation("res", operation, status)

	return err
}
