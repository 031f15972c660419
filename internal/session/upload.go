package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"

	"chatpdf/internal/docclient"
	"chatpdf/pkg/domain"
)

const pdfMIMEType = "application/pdf"

// invalidFileMessage is the fixed validation failure shown for non-PDF files.
const invalidFileMessage = "Please select a PDF file"

var (
	// ErrUploadInFlight rejects selection while an upload is running.
	ErrUploadInFlight = errors.New("an upload is already in flight")
	// ErrUploadComplete rejects selection after a successful ingestion;
	// the session must be reset first.
	ErrUploadComplete = errors.New("a document is already ingested")
	// ErrNoSelection rejects Upload unless a valid file is selected.
	ErrNoSelection = errors.New("no file selected")
)

// UploadState is the read model the presentation layer observes. Exactly one
// phase is active; Document is set only in the succeeded phase and Reason
// only in the failed phase.
type UploadState struct {
	Phase     domain.UploadPhase `json:"phase"`
	Filename  string             `json:"filename,omitempty"`
	SizeBytes int64              `json:"sizeBytes,omitempty"`
	PageCount int                `json:"pageCount,omitempty"`
	Document  *domain.Document   `json:"document,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

type candidate struct {
	filename string
	data     []byte
}

// UploaderConfig wires the uploader's collaborators and polling knobs.
type UploaderConfig struct {
	Client          *docclient.Client
	PollInterval    time.Duration
	PollMaxAttempts int
	// OnSuccess is invoked exactly once per successful upload with the
	// immutable descriptor of the ingested document.
	OnSuccess func(domain.Document)
}

// Uploader owns the lifecycle of a single candidate file from selection
// through remote ingestion. All transitions go through the tagged phase in
// UploadState; the mutex is never held across network calls so the state
// stays observable while a request is in flight.
type Uploader struct {
	client          *docclient.Client
	pollInterval    time.Duration
	pollMaxAttempts int
	onSuccess       func(domain.Document)

	mu      sync.Mutex
	state   UploadState
	pending *candidate
	gen     uint64
	cancel  context.CancelFunc
}

// NewUploader constructs an idle uploader.
func NewUploader(cfg UploaderConfig) *Uploader {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	attempts := cfg.PollMaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	return &Uploader{
		client:          cfg.Client,
		pollInterval:    interval,
		pollMaxAttempts: attempts,
		onSuccess:       cfg.OnSuccess,
		state:           UploadState{Phase: domain.PhaseIdle},
	}
}

// State returns a snapshot of the current upload state.
func (u *Uploader) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	state := u.state
	if u.state.Document != nil {
		doc := *u.state.Document
		state.Document = &doc
	}
	return state
}

// Select validates the candidate file. A PDF MIME type moves the machine to
// the selected phase holding the file; anything else fails with a fixed
// validation message before any network activity. Selection is rejected while
// an upload is in flight or after one has succeeded.
func (u *Uploader) Select(filename, contentType string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state.Phase {
	case domain.PhaseUploading, domain.PhaseProcessing:
		return ErrUploadInFlight
	case domain.PhaseSucceeded:
		return ErrUploadComplete
	}
	if contentType != pdfMIMEType {
		u.pending = nil
		u.state = UploadState{Phase: domain.PhaseFailed, Reason: invalidFileMessage}
		return nil
	}
	u.pending = &candidate{filename: filename, data: data}
	u.state = UploadState{
		Phase:     domain.PhaseSelected,
		Filename:  filename,
		SizeBytes: int64(len(data)),
		PageCount: countPages(data),
	}
	return nil
}

// Upload sends the selected file to the document service and drives the
// machine through uploading, processing, and the terminal phase. The guard
// admits the call only from the selected phase, which keeps at most one
// upload attempt in flight.
func (u *Uploader) Upload(ctx context.Context) error {
	u.mu.Lock()
	if u.state.Phase != domain.PhaseSelected {
		u.mu.Unlock()
		return ErrNoSelection
	}
	cand := u.pending
	u.gen++
	gen := u.gen
	ctx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.state.Phase = domain.PhaseUploading
	u.mu.Unlock()
	defer cancel()

	doc, err := u.client.Upload(ctx, cand.filename, bytes.NewReader(cand.data))
	if err != nil {
		slog.Warn("document upload failed", "filename", cand.filename, "err", err)
		u.fail(gen, uploadFailureReason(err))
		return err
	}
	if !u.advance(gen, domain.PhaseUploading, domain.PhaseProcessing) {
		return context.Canceled
	}

	if err := u.awaitIngestion(ctx, doc.ID); err != nil {
		slog.Warn("ingestion not confirmed", "document_id", doc.ID, "err", err)
		u.fail(gen, uploadFailureReason(err))
		return err
	}
	doc.IngestionStatus = domain.IngestionStatusReady
	if u.complete(gen, doc) && u.onSuccess != nil {
		u.onSuccess(doc)
	}
	return nil
}

// Reset returns the machine to idle, discarding any selected file and error
// state and cancelling an in-flight upload. Always permitted, idempotent.
func (u *Uploader) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	u.gen++
	u.pending = nil
	u.state = UploadState{Phase: domain.PhaseIdle}
}

// awaitIngestion polls the document status with backoff until the service
// reports it ready. This replaces a naive fixed post-upload delay: the
// transition to succeeded happens only once readiness is confirmed.
func (u *Uploader) awaitIngestion(ctx context.Context, docID string) error {
	delay := u.pollInterval
	for attempt := 0; attempt < u.pollMaxAttempts; attempt++ {
		info, err := u.client.Info(ctx, docID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Debug("status probe failed", "document_id", docID, "attempt", attempt, "err", err)
		} else {
			switch info.Status {
			case domain.IngestionStatusReady:
				return nil
			case domain.IngestionStatusFailed:
				msg := info.Message
				if msg == "" {
					msg = "ingestion failed"
				}
				return &docclient.APIError{Status: 500, Message: msg}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return errors.New("ingestion status not confirmed in time")
}

// advance applies a transition only when it still belongs to the current
// upload attempt, so a stale completion after Reset cannot resurrect state.
func (u *Uploader) advance(gen uint64, from, to domain.UploadPhase) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen || u.state.Phase != from {
		return false
	}
	u.state.Phase = to
	return true
}

func (u *Uploader) complete(gen uint64, doc domain.Document) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen || u.state.Phase != domain.PhaseProcessing {
		return false
	}
	u.pending = nil
	u.state.Phase = domain.PhaseSucceeded
	u.state.Document = &doc
	u.state.Reason = ""
	return true
}

// fail moves to the failed phase but keeps the selected file identity so the
// user can retry without re-selecting.
func (u *Uploader) fail(gen uint64, reason string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen {
		return
	}
	switch u.state.Phase {
	case domain.PhaseUploading, domain.PhaseProcessing:
		u.state.Phase = domain.PhaseFailed
		u.state.Reason = reason
	}
}

func uploadFailureReason(err error) string {
	var apiErr *docclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.Canceled) {
		return "upload canceled"
	}
	return "Upload failed"
}

// countPages is a best-effort local page count for display only; the MIME
// gate alone decides whether a file is accepted.
func countPages(data []byte) (pages int) {
	defer func() {
		if recover() != nil {
			pages = 0
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
