package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/quiz"
)

const twoQuestions = `[
  {"question": "Capital of France?", "options": ["Berlin", "Madrid", "Paris", "Rome"], "answer": "paris", "context": "Paris is the capital."},
  {"question": "2 + 2?", "options": ["3", "4", "5", "22"], "answer": "4"}
]`

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

var doc = quiz.Document{Name: "notes.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.7")}

func TestGenerateSendsDocumentAndParsesQuestions(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "k123", r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiReply("```json\n" + twoQuestions + "\n```")))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k123", Model: "test-model", BaseURL: srv.URL})
	qs, err := c.Generate(context.Background(), doc, 2)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "Paris", qs[0].CorrectOption)
	assert.Equal(t, "Paris is the capital.", qs[0].SupportingExcerpt)

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "2 multiple-choice questions")
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "application/pdf", parts[1].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(doc.Data), parts[1].InlineData.Data)
	assert.Equal(t, "application/json", got.GenerationConfig["responseMimeType"])
}

func TestGenerateFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
		},
		"no candidates": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
		},
		"not json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(geminiReply("Sure! Here is your quiz.")))
		},
		"wrong count": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(geminiReply(twoQuestions)))
		},
		"answer not an option": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(geminiReply(strings.Replace(twoQuestions, `"answer": "4"`, `"answer": "four"`, 1))))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			n := 2
			if name == "wrong count" {
				n = 3
			}
			_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Generate(context.Background(), doc, n)
			require.Error(t, err)
			assert.Equal(t, apperr.KindGenerationFailed, apperr.KindOf(err))
		})
	}
}

func TestGenerateTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	_, err := New(Config{APIKey: "secret-key", BaseURL: srv.URL}).Generate(context.Background(), doc, 2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindGenerationFailed, apperr.KindOf(err))
	assert.NotContains(t, err.Error(), "secret-key")
}

func TestGenerateRejectsUnsupportedMedia(t *testing.T) {
	_, err := New(Config{}).Generate(context.Background(), quiz.Document{MediaType: "application/zip", Data: []byte("PK")}, 2)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestParseQuestionsShapes(t *testing.T) {
	qs, err := ParseQuestions(`{"questions": ` + twoQuestions + `}`)
	require.NoError(t, err)
	assert.Len(t, qs, 2)

	qs, err = ParseQuestions("```\n" + twoQuestions + "```")
	require.NoError(t, err)
	assert.Len(t, qs, 2)

	_, err = ParseQuestions("   ")
	assert.Error(t, err)

	_, err = ParseQuestions(`[{"question": "q", "options": ["a", "b"], "answer": "a"}]`)
	assert.Error(t, err)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("application/pdf"))
	assert.True(t, Supported("image/png"))
	assert.True(t, Supported("text/plain; charset=utf-8"))
	assert.False(t, Supported("application/zip"))
	assert.False(t, Supported(""))
}
