package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

var (
	ErrIndexNotFound       = errors.New(errors.ErrCodeNotFound, "index not found")
	ErrIndexCreationFailed = errors.New(errors.CodeSearchError, "index creation failed")
	ErrBulkIndexFailed     = errors.New(errors.CodeSearchError, "bulk index failed")
)

// IndexerConfig holds configuration for the Indexer.
type IndexerConfig struct {
	BulkBatchSize int    `mapstructure:"bulk_batch_size"`
	RefreshPolicy string `mapstructure:"refresh_policy"`
}

// Document is one bulk item.
type Document struct {
	ID   string
	Body interface{}
}

// BulkItemError describes a rejected bulk item.
type BulkItemError struct {
	DocID     string `json:"doc_id"`
	ErrorType string `json:"error_type"`
	Reason    string `json:"reason"`
}

// BulkResult summarises a BulkIndex call.
type BulkResult struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Errors    []BulkItemError `json:"errors,omitempty"`
}

// Indexer manages index lifecycle and document ingestion.
type Indexer struct {
	client *Client
	config IndexerConfig
	logger logging.Logger
}

// NewIndexer creates a new Indexer.
func NewIndexer(client *Client, cfg IndexerConfig, logger logging.Logger) *Indexer {
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = 500
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "false"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Indexer{client: client, config: cfg, logger: logger}
}

// IndexExists checks if an index exists.
func (i *Indexer) IndexExists(ctx context.Context, indexName string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{indexName}}

	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return false, errors.Wrap(err, errors.CodeSearchError, "failed to check index existence")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, decodeError(resp, errors.New(errors.CodeSearchError, "check index existence failed"))
}

// EnsureIndex creates indexName with mapping unless it already exists.
func (i *Indexer) EnsureIndex(ctx context.Context, indexName string, mapping map[string]interface{}) error {
	exists, err := i.IndexExists(ctx, indexName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}
	req := opensearchapi.IndicesCreateRequest{
		Index: indexName,
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "failed to create index")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return decodeError(resp, ErrIndexCreationFailed)
	}
	i.logger.Info("Index created", logging.String("index", indexName))
	return nil
}

// DeleteIndex deletes an index.
func (i *Indexer) DeleteIndex(ctx context.Context, indexName string) error {
	req := opensearchapi.IndicesDeleteRequest{Index: []string{indexName}}

	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "failed to delete index")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrIndexNotFound
	}
	if resp.IsError() {
		return decodeError(resp, errors.New(errors.CodeSearchError, "delete index failed"))
	}
	i.logger.Warn("Index deleted", logging.String("index", indexName))
	return nil
}

// BulkIndex indexes docs in order, BulkBatchSize at a time. Per-item
// failures are reported in the result; transport failures abort.
func (i *Indexer) BulkIndex(ctx context.Context, indexName string, docs []Document) (*BulkResult, error) {
	result := &BulkResult{}
	for start := 0; start < len(docs); start += i.config.BulkBatchSize {
		end := start + i.config.BulkBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := i.bulkBatch(ctx, indexName, docs[start:end], result); err != nil {
			return result, err
		}
	}

	i.logger.Info("Bulk index completed",
		logging.String("index", indexName),
		logging.Int("total", len(docs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

func (i *Indexer) bulkBatch(ctx context.Context, indexName string, batch []Document, result *BulkResult) error {
	var buf bytes.Buffer
	sent := 0
	for _, doc := range batch {
		docBytes, err := json.Marshal(doc.Body)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{DocID: doc.ID, ErrorType: "serialization_error", Reason: err.Error()})
			continue
		}
		meta, _ := json.Marshal(map[string]any{"index": map[string]string{"_index": indexName, "_id": doc.ID}})
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
		sent++
	}
	if sent == 0 {
		return nil
	}

	req := opensearchapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: i.config.RefreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "bulk request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		result.Failed += sent
		err := decodeError(resp, ErrBulkIndexFailed)
		result.Errors = append(result.Errors, BulkItemError{DocID: "batch_error", ErrorType: "http_error", Reason: err.Error()})
		return nil
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}

	if !bulkResp.Errors {
		result.Succeeded += len(bulkResp.Items)
		return nil
	}
	for _, item := range bulkResp.Items {
		// Each item has a single key: index, create, update or delete.
		for _, v := range item {
			if v.Status >= 200 && v.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{DocID: v.ID, ErrorType: v.Error.Type, Reason: v.Error.Reason})
			}
		}
	}
	return nil
}

func decodeError(resp *opensearchapi.Response, defaultErr *errors.AppError) error {
	var errResp struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Error.Reason != "" {
		return errors.Wrap(defaultErr, defaultErr.Code, fmt.Sprintf("opensearch error: %s - %s", errResp.Error.Type, errResp.Error.Reason))
	}
	return errors.Wrap(defaultErr, defaultErr.Code, fmt.Sprintf("opensearch error status: %d", resp.StatusCode))
}
