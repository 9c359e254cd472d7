package extractor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPayload = `{
	"source_type": "operator_website",
	"operator_name": "Example Tours",
	"country": "Tanzania",
	"destination": "Kilimanjaro",
	"tour_identity": {"tour_title": "7 Day Lemosho Route", "tour_category": "trekking"},
	"duration": {"total_program_days": 9, "activity_days": 7},
	"itinerary_structure": {
		"days": [{"day": 1, "day_type": "arrival", "title": "Arrival in Arusha"}]
	},
	"pricing": {"price_displayed": true, "price_per_person_usd": 2850, "currency": "USD"},
	"derived_user_questions": ["Which scenic route has good acclimatization?"]
}`

func newTestClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(Config{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "gpt-4o",
		Timeout:        5 * time.Second,
		Temperature:    0.3,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, logger)
}

func completionsResponse(content string, tokens int) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"total_tokens": tokens},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestExtract_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Equal(t, 0.3, req.Temperature)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		prompt := req.Messages[1].Content
		assert.Contains(t, prompt, "SOURCE URL: https://example.com/lemosho")
		assert.Contains(t, prompt, "OPERATOR NAME: Example Tours")
		assert.Contains(t, prompt, "Day 1 Arrival raw text")
		// the template's literal percent must survive substitution
		assert.Contains(t, prompt, "90%")

		w.Write([]byte(completionsResponse(validPayload, 4200)))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	result, err := c.Extract(context.Background(), "Day 1 Arrival raw text", "https://example.com/lemosho", "Example Tours")
	require.NoError(t, err)

	assert.Equal(t, "7 Day Lemosho Route", result.Data.TourIdentity.TourTitle)
	assert.Equal(t, 7, result.Data.Duration.ActivityDays)
	assert.Equal(t, 2850.0, *result.Data.Pricing.PricePerPersonUSD)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Equal(t, 4200, *result.TokensUsed)
	assert.JSONEq(t, validPayload, string(result.RawJSON))
}

func TestExtract_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.Extract(context.Background(), "text", "https://example.com", "Example Tours")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestExtract_RetriesTransientServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(completionsResponse(validPayload, 4200)))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	result, err := c.Extract(context.Background(), "text", "https://example.com", "Example Tours")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "7 Day Lemosho Route", result.Data.TourIdentity.TourTitle)
}

func TestExtract_ClientErrorIsNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.Extract(context.Background(), "text", "https://example.com", "Example Tours")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "status 401")
	assert.NotContains(t, err.Error(), "attempts")
}

func TestExtract_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionsResponse(`{"tour_identity": `, 100)))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.Extract(context.Background(), "text", "https://example.com", "Example Tours")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON parsing error")
}

func TestExtract_SchemaViolation(t *testing.T) {
	// missing tour_title and derived_user_questions
	payload := `{"tour_identity": {"tour_title": ""}, "itinerary_structure": {"days": [{"day": 1}]}, "derived_user_questions": []}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionsResponse(payload, 100)))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.Extract(context.Background(), "text", "https://example.com", "Example Tours")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid extraction payload")
}

func TestExtract_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.Extract(context.Background(), "text", "https://example.com", "Example Tours")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestBuildPrompt_TruncatesRawText(t *testing.T) {
	long := make([]byte, maxPromptTextLen+500)
	for i := range long {
		long[i] = 'a'
	}

	prompt := buildPrompt(truncate(string(long), maxPromptTextLen), "https://example.com", "Example Tours")
	assert.LessOrEqual(t, len(prompt), len(extractionPrompt)+maxPromptTextLen+100)
}
