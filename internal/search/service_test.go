package search

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"qualedit/internal/store"
)

type fakeIndexer struct {
	healthy   bool
	documents []DocumentRecord
	codings   []CodingRecord
	deleted   []string
	indexErr  error
}

func (f *fakeIndexer) IndexDocument(doc DocumentRecord) error {
	f.documents = append(f.documents, doc)
	return f.indexErr
}

func (f *fakeIndexer) IndexCodings(codings []CodingRecord) error {
	f.codings = append(f.codings, codings...)
	return f.indexErr
}

func (f *fakeIndexer) DeleteCoding(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndexer) Healthy() bool { return f.healthy }

func TestSyncDocument(t *testing.T) {
	indexer := &fakeIndexer{healthy: true}
	svc := NewService(indexer, zap.NewNop())

	svc.SyncDocument(
		store.Document{ID: 3, Name: "interview", FullText: "I really like ice cream"},
		[]store.Coding{{ID: 9, CodeID: 2, Owner: "alice", SelText: "really", Pos0: 2, Pos1: 8}},
		[]int64{4, 5},
	)

	if len(indexer.documents) != 1 || indexer.documents[0].ID != "3" || indexer.documents[0].Text != "I really like ice cream" {
		t.Fatalf("unexpected documents %+v", indexer.documents)
	}
	want := CodingRecord{ID: "9", DocumentID: "3", CodeID: "2", Owner: "alice", SelText: "really", Pos0: 2, Pos1: 8}
	if len(indexer.codings) != 1 || indexer.codings[0] != want {
		t.Fatalf("unexpected codings %+v", indexer.codings)
	}
	if len(indexer.deleted) != 2 || indexer.deleted[1] != "5" {
		t.Fatalf("unexpected deletes %+v", indexer.deleted)
	}
}

func TestSyncDocumentSkipsUnhealthyOrMissingIndexer(t *testing.T) {
	indexer := &fakeIndexer{healthy: false}
	NewService(indexer, zap.NewNop()).SyncDocument(store.Document{ID: 1}, nil, nil)
	if len(indexer.documents) != 0 {
		t.Fatal("unhealthy indexer should not be called")
	}

	var nilSvc *Service
	nilSvc.SyncDocument(store.Document{ID: 1}, nil, nil)
	NewService(nil, nil).SyncDocument(store.Document{ID: 1}, nil, nil)
}

func TestSyncDocumentKeepsGoingAfterFailure(t *testing.T) {
	indexer := &fakeIndexer{healthy: true, indexErr: errors.New("timeout")}
	NewService(indexer, zap.NewNop()).SyncDocument(store.Document{ID: 1}, nil, []int64{7})
	if len(indexer.deleted) != 1 {
		t.Fatal("deletes should still run after an index failure")
	}
}
