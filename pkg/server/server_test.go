package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/newsdedup"
	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/server/dto"
)

const dims = 64

// textEmbedder returns a gaussian vector seeded by the text, so identical
// texts embed identically and unrelated texts are nearly orthogonal.
type textEmbedder struct{}

func (textEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = textEmbedder{}.EmbedSingle(ctx, t)
	}
	return out, nil
}

func (textEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	rng := rand.New(rand.NewPCG(xxhash.Sum64String(text), 1))
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v, nil
}

func (textEmbedder) Dimensions() int { return dims }
func (textEmbedder) Close() error    { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	engine, err := newsdedup.New(textEmbedder{}, newsdedup.DefaultConfig(), newsdedup.WithTickers("SBER"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	cfg := &config.Config{Server: config.ServerConfig{Host: "localhost", Port: 8080, Mode: gin.TestMode}}
	s := New(cfg, engine, nil)
	s.Setup()
	return s
}

func request(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestSetup(t *testing.T) {
	s := testServer(t)
	require.NotNil(t, s.router)
	require.NotNil(t, s.server)
	assert.Equal(t, "localhost:8080", s.server.Addr)
}

func TestRequestIDHeader(t *testing.T) {
	s := testServer(t)

	w := request(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	s := testServer(t)
	w := request(s, http.MethodOptions, "/api/v1/news", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewsFlow(t *testing.T) {
	s := testServer(t)
	body := dto.AddNewsRequest{
		Text:      "Sberbank raised its annual dividend to a record level",
		Tickers:   []string{"SBER", "MOEX"},
		Polarity:  "positive",
		Intensity: 7,
	}

	w := request(s, http.MethodPost, "/api/v1/news", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first dto.AddNewsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.ElementsMatch(t, []string{"SBER", "MOEX"}, first.AcceptedTickers)

	// Resubmitting the same text is a duplicate everywhere.
	w = request(s, http.MethodPost, "/api/v1/news", body)
	require.Equal(t, http.StatusOK, w.Code)
	var second dto.AddNewsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.False(t, second.Accepted)
	assert.ElementsMatch(t, []string{"SBER", "MOEX"}, second.Rejected)
	assert.True(t, second.Verdicts["SBER"].Duplicate)
	assert.Equal(t, 0, second.Verdicts["SBER"].MatchID)

	w = request(s, http.MethodGet, "/api/v1/news/unique", nil)
	var unique dto.UniqueNewsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unique))
	require.Equal(t, 1, unique.Count)
	assert.Equal(t, body.Text, unique.Items[0].Text)

	w = request(s, http.MethodGet, "/api/v1/partitions", nil)
	var parts dto.PartitionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parts))
	require.Equal(t, 2, parts.Count)
	assert.Equal(t, "MOEX", parts.Partitions[0].Ticker)
	assert.Equal(t, 1, parts.Partitions[1].Size)

	w = request(s, http.MethodGet, "/api/v1/partitions/SBER", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var one dto.PartitionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	require.Len(t, one.Records, 1)
	assert.Equal(t, body.Text, one.Records[0].Text)
}

func TestAddNewsValidation(t *testing.T) {
	s := testServer(t)
	w := request(s, http.MethodPost, "/api/v1/news", dto.AddNewsRequest{
		Text: "Sber", Tickers: []string{"SBER"}, Polarity: "positive", Intensity: 11,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadyWithCheck(t *testing.T) {
	engine, err := newsdedup.New(textEmbedder{}, newsdedup.DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	s := New(&config.Config{Server: config.ServerConfig{Mode: gin.TestMode}}, engine, nil)
	s.AddCheck("store", func(context.Context) error { return nil })
	s.Setup()

	w := request(s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store"`)
}
