// Package generation asks Gemini for multiple-choice questions about an
// uploaded document.
package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/quiz"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-1.5-flash-latest"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
}

func New(cfg Config) *Client {
	h := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		h.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{http: h, apiKey: cfg.APIKey, model: cfg.Model, baseURL: strings.TrimRight(cfg.BaseURL, "/")}
}

// Supported reports whether Gemini accepts the media type as inline data.
func Supported(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0]))
	switch {
	case mt == "application/pdf", mt == "text/plain", mt == "text/markdown", mt == "text/csv":
		return true
	case strings.HasPrefix(mt, "image/"):
		return true
	}
	return false
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content      `json:"contents"`
	GenerationConfig map[string]any `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func prompt(n int) string {
	return fmt.Sprintf(`Read the attached document or image and write a quiz of %d multiple-choice questions about its content.
Each question has exactly 4 options. Reply with JSON only, no commentary: an array of objects with the fields
"question" (string), "options" (array of 4 strings), "answer" (string, exactly one of the options) and
"context" (a short excerpt from the document that supports the answer).`, n)
}

// Generate implements quiz.Generator.
func (c *Client) Generate(ctx context.Context, doc quiz.Document, n int) ([]quiz.Question, error) {
	const op = "gemini.generate"
	if !Supported(doc.MediaType) {
		return nil, apperr.Errorf(apperr.KindInvalid, op, "unsupported media type %q", doc.MediaType)
	}
	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: prompt(n)},
				{InlineData: &inlineData{MimeType: doc.MediaType, Data: base64.StdEncoding.EncodeToString(doc.Data)}},
			},
		}},
		GenerationConfig: map[string]any{"responseMimeType": "application/json"},
	})
	if err != nil {
		return nil, apperr.E(apperr.KindGenerationFailed, op, err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.E(apperr.KindGenerationFailed, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		// the URL carries the key, so report only the cause
		if ue, ok := err.(*url.Error); ok {
			err = ue.Err
		}
		return nil, apperr.E(apperr.KindGenerationFailed, op, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, apperr.Errorf(apperr.KindGenerationFailed, op, "gemini: %s: %s", res.Status, strings.TrimSpace(string(snippet)))
	}
	var gr generateResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return nil, apperr.E(apperr.KindGenerationFailed, op, fmt.Errorf("decode response: %w", err))
	}
	if len(gr.Candidates) == 0 {
		reason := gr.PromptFeedback.BlockReason
		if reason == "" {
			reason = "no candidates"
		}
		return nil, apperr.Errorf(apperr.KindGenerationFailed, op, "gemini: %s", reason)
	}
	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	qs, err := ParseQuestions(text.String())
	if err != nil {
		return nil, apperr.E(apperr.KindGenerationFailed, op, err)
	}
	if len(qs) != n {
		return nil, apperr.Errorf(apperr.KindGenerationFailed, op, "gemini returned %d questions, want %d", len(qs), n)
	}
	return qs, nil
}
