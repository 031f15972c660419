package docclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"chatpdf/pkg/domain"
)

// Client calls the document & chat service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a document service error response. Non-2xx statuses
// and 2xx bodies without the success marker both map onto it, so callers
// treat transport and application failures uniformly.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a document service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IngestionInfo is the status probe result for one document.
type IngestionInfo struct {
	PDFID   string `json:"pdf_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ChatResult is an answer plus the passages it drew from, in service order.
type ChatResult struct {
	Response string
	Sources  []domain.Source
}

type uploadData struct {
	PDFID       string `json:"pdf_id"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"total_chunks"`
	TotalPages  int    `json:"total_pages"`
	Status      string `json:"status"`
}

type chatRequest struct {
	PDFID       string        `json:"pdf_id"`
	Query       string        `json:"query"`
	ChatHistory []domain.Turn `json:"chat_history"`
}

type chatData struct {
	Response string `json:"response"`
	Sources  []struct {
		PageNumber     int     `json:"page_number"`
		Preview        string  `json:"preview"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"sources"`
}

type summaryData struct {
	PDFID   string `json:"pdf_id"`
	Summary string `json:"summary"`
}

// Upload sends the file as multipart form data under field "file" and
// returns the descriptor of the ingested document.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (domain.Document, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.Document{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.Document{}, err
	}
	if err := writer.Close(); err != nil {
		return domain.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return domain.Document{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var data uploadData
	if err := c.do(req, &data); err != nil {
		return domain.Document{}, err
	}
	return domain.Document{
		ID:              data.PDFID,
		Filename:        data.Filename,
		TotalPages:      data.TotalPages,
		TotalChunks:     data.TotalChunks,
		IngestionStatus: data.Status,
	}, nil
}

// Chat sends a query with the prior role/content turns as context.
func (c *Client) Chat(ctx context.Context, pdfID, query string, history []domain.Turn) (ChatResult, error) {
	if history == nil {
		history = []domain.Turn{}
	}
	payload, err := json.Marshal(chatRequest{PDFID: pdfID, Query: query, ChatHistory: history})
	if err != nil {
		return ChatResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return ChatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var data chatData
	if err := c.do(req, &data); err != nil {
		return ChatResult{}, err
	}
	result := ChatResult{Response: data.Response}
	for _, src := range data.Sources {
		result.Sources = append(result.Sources, domain.Source{
			PageNumber:     src.PageNumber,
			Preview:        src.Preview,
			RelevanceScore: src.RelevanceScore,
		})
	}
	return result, nil
}

// Summary fetches the prose summary for a document.
func (c *Client) Summary(ctx context.Context, pdfID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/pdf/%s/summary", c.baseURL, pdfID), nil)
	if err != nil {
		return "", err
	}
	var data summaryData
	if err := c.do(req, &data); err != nil {
		return "", err
	}
	return data.Summary, nil
}

// Info probes the ingestion status of a document.
func (c *Client) Info(ctx context.Context, pdfID string) (IngestionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/pdf/%s", c.baseURL, pdfID), nil)
	if err != nil {
		return IngestionInfo{}, err
	}
	var info IngestionInfo
	if err := c.do(req, &info); err != nil {
		return IngestionInfo{}, err
	}
	return info, nil
}

// Delete removes a document and its indexed chunks from the service.
func (c *Client) Delete(ctx context.Context, pdfID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/pdf/%s", c.baseURL, pdfID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "malformed response body"}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "service reported failure"
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "malformed response data"}
	}
	return nil
}
