package search

import (
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxDocuments = "qualedit_documents"
	idxCodings   = "qualedit_codings"
)

// Meili implements Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is reported through Healthy and retried in the
// background.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop(10 * time.Second)
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxDocuments,
			filterable: []string{"name"},
			searchable: []string{"name", "text"},
		},
		{
			uid:        idxCodings,
			filterable: []string{"documentId", "codeId", "owner"},
			searchable: []string{"seltext"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("create index (may already exist)", zap.String("index", idx.uid), zap.Error(err))
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
	}
}

func (m *Meili) healthLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexDocument adds or replaces a document's text in the index.
func (m *Meili) IndexDocument(doc DocumentRecord) error {
	if _, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{doc}, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	return nil
}

// IndexCodings upserts coded segments by id.
func (m *Meili) IndexCodings(codings []CodingRecord) error {
	if len(codings) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxCodings).AddDocuments(codings, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("index codings: %w", err)
	}
	return nil
}

func (m *Meili) DeleteCoding(id string) error {
	if _, err := m.client.Index(idxCodings).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("delete coding %s: %w", id, err)
	}
	return nil
}
