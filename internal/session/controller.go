package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatpdf/internal/docclient"
	"chatpdf/pkg/domain"
)

// ErrNoActiveDocument rejects conversation operations before a document is
// ingested.
var ErrNoActiveDocument = errors.New("no active document")

// ControllerConfig wires the controller's collaborators.
type ControllerConfig struct {
	Client          *docclient.Client
	PollInterval    time.Duration
	PollMaxAttempts int
}

// Controller is the top-level session coupling. It holds at most one active
// document at a time: upload success hands the descriptor to a fresh
// conversation, and back navigation tears everything down again. No other
// component mutates the active document.
type Controller struct {
	client   *docclient.Client
	uploader *Uploader

	mu   sync.Mutex
	conv *Conversation
}

// NewController builds a controller with an idle uploader.
func NewController(cfg ControllerConfig) *Controller {
	ctrl := &Controller{client: cfg.Client}
	ctrl.uploader = NewUploader(UploaderConfig{
		Client:          cfg.Client,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		OnSuccess:       ctrl.activate,
	})
	return ctrl
}

// Uploader exposes the upload orchestrator.
func (s *Controller) Uploader() *Uploader {
	return s.uploader
}

// Conversation returns the active conversation, if any.
func (s *Controller) Conversation() (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.conv != nil
}

// ActiveDocument returns the descriptor of the ingested document, if any.
func (s *Controller) ActiveDocument() (domain.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return domain.Document{}, false
	}
	return s.conv.Document(), true
}

// activate installs a fresh conversation for a newly ingested document. Any
// previous conversation is discarded so history never leaks across
// documents. The summary load runs in the background; the conversation is
// usable immediately.
func (s *Controller) activate(doc domain.Document) {
	s.mu.Lock()
	if s.conv != nil {
		s.conv.Close()
	}
	conv := NewConversation(s.client, doc)
	s.conv = conv
	s.mu.Unlock()

	slog.Info("session activated", "document_id", doc.ID, "filename", doc.Filename)
	go conv.LoadSummary()
}

// Back ends the session: the conversation and its history are discarded, the
// uploader returns to idle, and the remote document is cleaned up on a best
// effort basis.
func (s *Controller) Back(ctx context.Context) {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.mu.Unlock()

	s.uploader.Reset()
	if conv == nil {
		return
	}
	conv.Close()
	doc := conv.Document()
	if err := s.client.Delete(ctx, doc.ID); err != nil {
		slog.Warn("remote document cleanup failed", "document_id", doc.ID, "err", err)
	}
	slog.Info("session ended", "document_id", doc.ID)
}
