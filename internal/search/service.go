package search

import (
	"strconv"

	"go.uber.org/zap"

	"qualedit/internal/store"
)

// Service pushes committed document state to the indexer. A nil indexer
// turns every call into a no-op.
type Service struct {
	indexer Indexer
	logger  *zap.Logger
}

func NewService(indexer Indexer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{indexer: indexer, logger: logger}
}

func (s *Service) enabled() bool {
	return s != nil && s.indexer != nil && s.indexer.Healthy()
}

// SyncDocument re-indexes the text and codings of one document and drops
// codings that no longer exist. Failures are logged, not returned.
func (s *Service) SyncDocument(doc store.Document, codings []store.Coding, deletedCodingIDs []int64) {
	if !s.enabled() {
		return
	}
	docID := strconv.FormatInt(doc.ID, 10)
	if err := s.indexer.IndexDocument(DocumentRecord{ID: docID, Name: doc.Name, Text: doc.FullText}); err != nil {
		s.logger.Warn("search: index document", zap.String("document_id", docID), zap.Error(err))
	}

	records := make([]CodingRecord, 0, len(codings))
	for _, c := range codings {
		records = append(records, CodingRecord{
			ID:         strconv.FormatInt(c.ID, 10),
			DocumentID: docID,
			CodeID:     strconv.FormatInt(c.CodeID, 10),
			Owner:      c.Owner,
			SelText:    c.SelText,
			Pos0:       c.Pos0,
			Pos1:       c.Pos1,
		})
	}
	if err := s.indexer.IndexCodings(records); err != nil {
		s.logger.Warn("search: index codings", zap.String("document_id", docID), zap.Error(err))
	}

	for _, id := range deletedCodingIDs {
		if err := s.indexer.DeleteCoding(strconv.FormatInt(id, 10)); err != nil {
			s.logger.Warn("search: delete coding", zap.Int64("coding_id", id), zap.Error(err))
		}
	}
}
