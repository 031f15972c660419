package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatpdf/internal/docclient"
	"chatpdf/pkg/domain"
)

var (
	// ErrEmptyQuery rejects messages that are blank after trimming.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrQueryInFlight rejects a message while another is outstanding.
	ErrQueryInFlight = errors.New("a question is already in flight")
)

// Conversation owns the ordered message history for one active document.
// Sends are serialized by the single-flight guard: a second Send while one is
// outstanding is rejected without any observable effect, so history append
// order always equals call order.
type Conversation struct {
	client *docclient.Client
	doc    domain.Document
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	history     []domain.Message
	summary     string
	outstanding bool
}

// NewConversation binds a fresh, empty conversation to an ingested document.
func NewConversation(client *docclient.Client, doc domain.Document) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conversation{
		client: client,
		doc:    doc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Document returns the descriptor this conversation is bound to.
func (c *Conversation) Document() domain.Document {
	return c.doc
}

// LoadSummary fetches the document summary once. The summary is a
// non-essential enhancement: failures are logged and swallowed, never
// surfaced, and must not block the conversation flow.
func (c *Conversation) LoadSummary() {
	summary, err := c.client.Summary(c.ctx, c.doc.ID)
	if err != nil {
		slog.Warn("summary fetch failed", "document_id", c.doc.ID, "err", err)
		return
	}
	c.mu.Lock()
	c.summary = summary
	c.mu.Unlock()
}

// Summary returns the document summary for display, suppressed once the
// first message has been sent.
func (c *Conversation) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) > 0 {
		return ""
	}
	return c.summary
}

// Outstanding reports whether a query is currently in flight, so the
// presentation layer can disable conflicting actions.
func (c *Conversation) Outstanding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// History returns a copy of the message history in append order.
func (c *Conversation) History() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Send submits one query. The user's turn is appended optimistically before
// any network activity, so it is visible and ordering-stable regardless of
// response latency. Transport or application failures never remove it:
// they append an inline assistant error message and leave the conversation
// usable for the next query. The returned message is the assistant reply,
// success or failure.
func (c *Conversation) Send(raw string) (domain.Message, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return domain.Message{}, ErrEmptyQuery
	}

	c.mu.Lock()
	if c.outstanding {
		c.mu.Unlock()
		return domain.Message{}, ErrQueryInFlight
	}
	// Context excludes the message appended below: only prior turns are sent.
	turns := domain.TurnsFromHistory(c.history)
	c.history = append(c.history, domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   query,
		CreatedAt: time.Now().UTC(),
	})
	c.outstanding = true
	c.mu.Unlock()

	result, err := c.client.Chat(c.ctx, c.doc.ID, query, turns)

	reply := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		slog.Warn("chat request failed", "document_id", c.doc.ID, "err", err)
		reply.Content = "Sorry, I encountered an error: " + chatFailureReason(err)
	} else {
		reply.Content = result.Response
		reply.Sources = result.Sources
	}

	c.mu.Lock()
	c.history = append(c.history, reply)
	c.outstanding = false
	c.mu.Unlock()
	return reply, nil
}

// Close cancels any in-flight request bound to this conversation.
func (c *Conversation) Close() {
	c.cancel()
}

func chatFailureReason(err error) string {
	var apiErr *docclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.Canceled) {
		return "the session was closed"
	}
	return "Unknown error"
}
