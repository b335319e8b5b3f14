package search

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type recordedCall struct {
	method string
	path   string
	body   string
}

// fakeMeili answers like a Meilisearch server that enqueues every task.
func fakeMeili(t *testing.T) (*httptest.Server, func() []recordedCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recordedCall{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"available"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"taskUid":    1,
			"indexUid":   "qualedit_documents",
			"status":     "enqueued",
			"type":       "documentAdditionOrUpdate",
			"enqueuedAt": "2026-01-01T00:00:00Z",
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedCall(nil), calls...)
	}
}

func TestMeiliIndexesDocumentsAndCodings(t *testing.T) {
	srv, calls := fakeMeili(t)
	m := NewMeili(srv.URL, "key", zap.NewNop())
	defer m.Close()

	if !m.Healthy() {
		t.Fatal("expected healthy client")
	}
	if err := m.IndexDocument(DocumentRecord{ID: "1", Name: "interview", Text: "hello world"}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if err := m.IndexCodings([]CodingRecord{{ID: "4", DocumentID: "1", SelText: "world"}}); err != nil {
		t.Fatalf("IndexCodings: %v", err)
	}
	if err := m.DeleteCoding("5"); err != nil {
		t.Fatalf("DeleteCoding: %v", err)
	}

	var sawDocument, sawCoding, sawDelete bool
	for _, c := range calls() {
		switch {
		case c.method == http.MethodPost && c.path == "/indexes/qualedit_documents/documents":
			sawDocument = strings.Contains(c.body, "hello world")
		case c.method == http.MethodPost && c.path == "/indexes/qualedit_codings/documents":
			sawCoding = strings.Contains(c.body, `"seltext":"world"`)
		case c.method == http.MethodDelete && c.path == "/indexes/qualedit_codings/documents/5":
			sawDelete = true
		}
	}
	if !sawDocument || !sawCoding || !sawDelete {
		t.Fatalf("missing calls: document=%v coding=%v delete=%v", sawDocument, sawCoding, sawDelete)
	}
}

func TestMeiliUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMeili(srv.URL, "", zap.NewNop())
	defer m.Close()
	if m.Healthy() {
		t.Fatal("expected unhealthy client")
	}
}
