package docclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatpdf/pkg/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestUploadParsesDescriptor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file field: %v", err)
		}
		file.Close()
		if header.Filename != "a.pdf" {
			t.Fatalf("filename = %q, want a.pdf", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"pdf_id":       "doc-1",
				"filename":     "a.pdf",
				"total_chunks": 42,
				"total_pages":  10,
				"status":       "processed",
			},
		})
	})

	doc, err := client.Upload(context.Background(), "a.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	want := domain.Document{ID: "doc-1", Filename: "a.pdf", TotalPages: 10, TotalChunks: 42, IngestionStatus: "processed"}
	if doc != want {
		t.Fatalf("document = %+v, want %+v", doc, want)
	}
}

func TestUploadMapsErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Failed to process PDF: no text"})
	})

	_, err := client.Upload(context.Background(), "a.pdf", strings.NewReader("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", apiErr.Status)
	}
	if apiErr.Message != "Failed to process PDF: no text" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestUploadTreatsMissingSuccessMarkerAsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "ingestion rejected"})
	})

	_, err := client.Upload(context.Background(), "a.pdf", strings.NewReader("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "ingestion rejected" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestChatSendsHistoryAndParsesSources(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			PDFID       string        `json:"pdf_id"`
			Query       string        `json:"query"`
			ChatHistory []domain.Turn `json:"chat_history"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode chat request: %v", err)
		}
		if req.PDFID != "doc-1" || req.Query != "What is this about?" {
			t.Fatalf("unexpected payload: %+v", req)
		}
		if len(req.ChatHistory) != 2 || req.ChatHistory[0].Role != domain.RoleUser {
			t.Fatalf("unexpected history: %+v", req.ChatHistory)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"response": "It is about X.",
				"sources": []map[string]any{
					{"page_number": 3, "preview": "X is...", "relevance_score": 0.92},
				},
			},
		})
	})

	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}
	result, err := client.Chat(context.Background(), "doc-1", "What is this about?", history)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.Response != "It is about X." {
		t.Fatalf("response = %q", result.Response)
	}
	if len(result.Sources) != 1 || result.Sources[0].PageNumber != 3 || result.Sources[0].RelevanceScore != 0.92 {
		t.Fatalf("sources = %+v", result.Sources)
	}
}

func TestChatSendsEmptyHistoryArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if string(raw["chat_history"]) != "[]" {
			t.Fatalf("chat_history = %s, want []", raw["chat_history"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"response": "ok", "sources": []any{}},
		})
	})

	if _, err := client.Chat(context.Background(), "doc-1", "q", nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
}

func TestSummaryAndInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pdf/doc-1/summary":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"pdf_id": "doc-1", "summary": "A short summary."},
			})
		case "/pdf/doc-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"pdf_id": "doc-1", "status": "ready", "message": "PDF is ready for chat"},
			})
		default:
			http.NotFound(w, r)
		}
	})

	summary, err := client.Summary(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != "A short summary." {
		t.Fatalf("summary = %q", summary)
	}

	info, err := client.Info(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Status != "ready" {
		t.Fatalf("status = %q, want ready", info.Status)
	}
}

func TestDelete(t *testing.T) {
	var deleted bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/pdf/doc-1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		deleted = true
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"status": "deleted", "pdf_id": "doc-1"},
		})
	})

	if err := client.Delete(context.Background(), "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("delete request never reached the service")
	}
}

func TestMalformedBodyIsAnAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := client.Summary(context.Background(), "doc-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError for malformed body, got %v", err)
	}
}
