package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chatpdf/internal/docclient"
	"chatpdf/pkg/domain"
)

// fakeDocService is a minimal document & chat service for controller tests.
type fakeDocService struct {
	nextID      atomic.Int32
	deleteCalls atomic.Int32
	lastDeleted atomic.Value
}

func (f *fakeDocService) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			id := f.nextID.Add(1)
			writeEnvelope(w, map[string]any{
				"pdf_id":       docID(id),
				"filename":     "a.pdf",
				"total_chunks": 42,
				"total_pages":  10,
				"status":       "processed",
			})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/summary"):
			writeEnvelope(w, map[string]any{"summary": "A short summary."})
		case r.Method == http.MethodGet:
			writeEnvelope(w, map[string]any{"status": "ready"})
		case r.Method == http.MethodDelete:
			f.deleteCalls.Add(1)
			f.lastDeleted.Store(r.URL.Path)
			writeEnvelope(w, map[string]any{"status": "deleted"})
		case r.Method == http.MethodPost && r.URL.Path == "/chat":
			writeEnvelope(w, chatAnswer("an answer"))
		default:
			http.NotFound(w, r)
		}
	}
}

func docID(n int32) string {
	return fmt.Sprintf("doc-%d", n)
}

func newTestController(t *testing.T) (*Controller, *fakeDocService) {
	t.Helper()
	fake := &fakeDocService{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	ctrl := NewController(ControllerConfig{
		Client:       docclient.NewClient(srv.URL, time.Second),
		PollInterval: time.Millisecond,
	})
	return ctrl, fake
}

func ingest(t *testing.T, ctrl *Controller) domain.Document {
	t.Helper()
	u := ctrl.Uploader()
	if err := u.Select("a.pdf", "application/pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := u.Upload(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}
	doc, ok := ctrl.ActiveDocument()
	if !ok {
		t.Fatal("no active document after successful upload")
	}
	return doc
}

func TestUploadSuccessActivatesConversation(t *testing.T) {
	ctrl, _ := newTestController(t)
	doc := ingest(t, ctrl)

	conv, ok := ctrl.Conversation()
	if !ok {
		t.Fatal("no conversation after activation")
	}
	if conv.Document().ID != doc.ID {
		t.Fatalf("conversation bound to %q, want %q", conv.Document().ID, doc.ID)
	}
	if len(conv.History()) != 0 {
		t.Fatal("fresh conversation must start empty")
	}
	waitFor(t, "summary load", func() bool { return conv.Summary() == "A short summary." })
}

func TestBackClearsSessionAndCleansUpRemote(t *testing.T) {
	ctrl, fake := newTestController(t)
	doc := ingest(t, ctrl)

	ctrl.Back(context.Background())

	if _, ok := ctrl.ActiveDocument(); ok {
		t.Fatal("active document survived back navigation")
	}
	if _, ok := ctrl.Conversation(); ok {
		t.Fatal("conversation survived back navigation")
	}
	if state := ctrl.Uploader().State(); state.Phase != domain.PhaseIdle {
		t.Fatalf("uploader phase after back = %q, want idle", state.Phase)
	}
	if got := fake.deleteCalls.Load(); got != 1 {
		t.Fatalf("delete calls = %d, want 1", got)
	}
	if got, _ := fake.lastDeleted.Load().(string); got != "/pdf/"+doc.ID {
		t.Fatalf("deleted path = %q", got)
	}

	// Back again is harmless.
	ctrl.Back(context.Background())
	if got := fake.deleteCalls.Load(); got != 1 {
		t.Fatalf("second back issued another delete: %d", got)
	}
}

func TestNewUploadDiscardsPreviousConversation(t *testing.T) {
	ctrl, _ := newTestController(t)
	first := ingest(t, ctrl)

	conv, _ := ctrl.Conversation()
	if _, err := conv.Send("remember this"); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctrl.Uploader().Reset()
	second := ingest(t, ctrl)
	if second.ID == first.ID {
		t.Fatalf("expected a new document id, got %q twice", second.ID)
	}

	conv2, ok := ctrl.Conversation()
	if !ok {
		t.Fatal("no conversation after second upload")
	}
	if conv2 == conv {
		t.Fatal("conversation instance reused across documents")
	}
	if conv2.Document().ID != second.ID {
		t.Fatalf("conversation bound to %q, want %q", conv2.Document().ID, second.ID)
	}
	if len(conv2.History()) != 0 {
		t.Fatal("history leaked across documents")
	}
}
