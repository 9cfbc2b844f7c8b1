package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/resilience"
	"github.com/elixir-ega/dataedge/internal/telemetry"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// FileRecord is the catalog's view of one archived file. Immutable once
// resolved for a request; Size may be back-filled from the archive when
// the catalog does not know it.
type FileRecord struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Size     int64  `json:"fileSize"`
	Status   string `json:"fileStatus"`
}

type fileDataset struct {
	FileID    string `json:"fileId"`
	DatasetID string `json:"datasetId"`
}

type fileIndex struct {
	FileID      string `json:"fileId"`
	IndexFileID string `json:"indexFileId"`
}

// ArchiveSizer is the one archive capability the catalog client needs:
// an authoritative size for files the catalog has no size for.
type ArchiveSizer interface {
	ArchiveSize(ctx context.Context, fileID string) (int64, error)
}

// Client queries the file/dataset catalog. Lookups are fronted by a
// bounded TTL cache with per-key single-flight refresh, so a stampede on
// a cold key issues at most one upstream fetch per key at a time.
type Client struct {
	baseURL string
	client  *http.Client
	retrier *resilience.Retrier
	sizer   ArchiveSizer
	tel     *telemetry.Telemetry

	files    *expirable.LRU[string, *FileRecord]
	datasets *expirable.LRU[string, []string]
	indexes  *expirable.LRU[string, string]
	flight   singleflight.Group
}

// Options configures the catalog client cache.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewClient creates a catalog client. httpClient carries the service
// credentials and instrumentation; sizer may be nil when no archive
// fallback is available.
func NewClient(baseURL string, httpClient *http.Client, retrier *resilience.Retrier, sizer ArchiveSizer, tel *telemetry.Telemetry, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = 8192
	}

	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		retrier:  retrier,
		sizer:    sizer,
		tel:      tel,
		files:    expirable.NewLRU[string, *FileRecord](opts.CacheSize, nil, opts.CacheTTL),
		datasets: expirable.NewLRU[string, []string](opts.CacheSize, nil, opts.CacheTTL),
		indexes:  expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
	}
}

// GetFile returns the catalog record for fileID. A missing catalog size
// is back-filled once from the archive; the filled value serves the
// current request without touching the cached entry.
func (c *Client) GetFile(ctx context.Context, fileID string) (*FileRecord, error) {
	record, err := c.cachedFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if record.Size == 0 && c.sizer != nil {
		size, err := c.sizer.ArchiveSize(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve archive size for %s: %w", fileID, err)
		}

		filled := *record
		filled.Size = size

		return &filled, nil
	}

	return record, nil
}

// GetDatasets returns the dataset ids the file belongs to, in catalog
// order. The order matters: permission binding picks the first match.
func (c *Client) GetDatasets(ctx context.Context, fileID string) ([]string, error) {
	if cached, ok := c.datasets.Get(fileID); ok {
		c.tel.RecordCacheLookup("datasets", true)

		return cached, nil
	}

	c.tel.RecordCacheLookup("datasets", false)

	v, err, _ := c.flight.Do("datasets/"+fileID, func() (interface{}, error) {
		var body []fileDataset
		if err := c.getJSON(ctx, "/file/"+fileID+"/datasets", &body, &transfer.NotFoundError{Kind: "file", ID: fileID}); err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(body))
		for _, fd := range body {
			if fd.DatasetID != "" {
				ids = append(ids, fd.DatasetID)
			}
		}

		c.datasets.Add(fileID, ids)

		return ids, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]string), nil
}

// GetIndexFile returns the id of the index file paired with fileID, or a
// NotFoundError when the catalog has none.
func (c *Client) GetIndexFile(ctx context.Context, fileID string) (string, error) {
	if cached, ok := c.indexes.Get(fileID); ok {
		c.tel.RecordCacheLookup("index", true)

		return cached, nil
	}

	c.tel.RecordCacheLookup("index", false)

	v, err, _ := c.flight.Do("index/"+fileID, func() (interface{}, error) {
		var body []fileIndex
		if err := c.getJSON(ctx, "/file/"+fileID+"/index", &body, &transfer.NotFoundError{Kind: "index", ID: fileID}); err != nil {
			return nil, err
		}

		if len(body) == 0 || body[0].IndexFileID == "" {
			return nil, &transfer.NotFoundError{Kind: "index", ID: fileID}
		}

		c.indexes.Add(fileID, body[0].IndexFileID)

		return body[0].IndexFileID, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (c *Client) cachedFile(ctx context.Context, fileID string) (*FileRecord, error) {
	if cached, ok := c.files.Get(fileID); ok {
		c.tel.RecordCacheLookup("files", true)

		return cached, nil
	}

	c.tel.RecordCacheLookup("files", false)

	v, err, _ := c.flight.Do("file/"+fileID, func() (interface{}, error) {
		var body []FileRecord
		if err := c.getJSON(ctx, "/file/"+fileID, &body, &transfer.NotFoundError{Kind: "file", ID: fileID}); err != nil {
			return nil, err
		}

		if len(body) == 0 {
			return nil, &transfer.NotFoundError{Kind: "file", ID: fileID}
		}

		record := &body[0]
		c.files.Add(fileID, record)

		return record, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*FileRecord), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}, notFound error) error {
	logger := logctx.LoggerFromContext(ctx)

	fn := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to query catalog: %w", err)
		}

		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(notFound)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("catalog returned status %d for %s", resp.StatusCode, path)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode catalog response: %w", err)
		}

		return nil
	}

	err := c.tel.InstrumentClientOperation(ctx, "catalog", "get", func(ctx context.Context) error {
		if c.retrier != nil {
			return c.retrier.Do(ctx, "catalog_get", fn)
		}

		return fn(ctx)
	})
	if err != nil {
		logger.Error("catalog lookup failed", "path", path, "err", err)
	}

	return err
}
