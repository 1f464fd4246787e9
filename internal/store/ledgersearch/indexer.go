// Package ledgersearch mirrors delivery-attempt rows into Elasticsearch
// for the troubleshooting surface. Postgres stays the source of truth: an
// index failure only logs, and searches are advisory.
package ledgersearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexName = "delivery-attempts"

// Indexer writes ledger rows to the search index.
type Indexer struct {
	es     *elasticsearch.Client
	logger logger.Logger
}

func NewIndexer(es *elasticsearch.Client, log logger.Logger) *Indexer {
	return &Indexer{
		es:     es,
		logger: log.WithFields(map[string]interface{}{"component": "ledger_indexer"}),
	}
}

// Index mirrors one attempt. Fire-and-forget: failures log and return nil.
func (i *Indexer) Index(ctx context.Context, a models.DeliveryAttempt) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: a.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.es)
	if err != nil {
		i.logger.Warn("attempt index failed", map[string]interface{}{
			"attemptId": a.ID, "error": err.Error(),
		})
		return nil
	}
	defer res.Body.Close()
	if res.IsError() {
		i.logger.Warn("attempt index rejected", map[string]interface{}{
			"attemptId": a.ID, "status": res.Status(),
		})
	}
	return nil
}

// Search returns attempt ids matching a notification and optional status,
// newest first. Advisory only; the ledger remains authoritative.
func (i *Indexer) Search(ctx context.Context, notificationID string, status models.AttemptStatus, limit int) ([]models.DeliveryAttempt, error) {
	must := []map[string]interface{}{
		{"term": map[string]interface{}{"notificationId": notificationID}},
	}
	if status != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"status": string(status)},
		})
	}
	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"sentAt": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(indexName),
		i.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search attempts: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search attempts: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.DeliveryAttempt `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]models.DeliveryAttempt, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
