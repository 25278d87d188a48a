package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer answers OpenAI-compatible embedding requests with vectors whose first
// component is the text index plus one. Responses list data in reverse order.
func embeddingServer(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i + 1), 0.5},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJinaProvider(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, &calls, http.StatusOK)
	p, err := NewJinaProvider("test-key", "", srv.URL, NewCache(10))
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0], "results follow request order")
	assert.Equal(t, float32(2), resp.Embeddings[1].Vector[0])
	assert.Equal(t, ProviderJina, resp.Provider)
	assert.Equal(t, DefaultJinaModel, resp.Model)

	// Both texts are cached now
	_, err = p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Only the miss is sent
	resp, err = p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "c"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, float32(1), resp.Embeddings[1].Vector[0])
}

func TestOpenAIProvider(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, &calls, http.StatusOK)
	p, err := NewOpenAIProvider("test-key", "", srv.URL+"/v1", nil)
	require.NoError(t, err)

	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5}, emb.Vector)
	assert.Equal(t, ProviderOpenAI, emb.Provider)
	assert.Equal(t, DefaultOpenAIModel, emb.Model)
}

func TestProviders_SingleAttempt(t *testing.T) {
	var jinaCalls, openaiCalls int32
	jinaSrv := embeddingServer(t, &jinaCalls, http.StatusInternalServerError)
	openaiSrv := embeddingServer(t, &openaiCalls, http.StatusInternalServerError)

	jina, err := NewJinaProvider("test-key", "", jinaSrv.URL, nil)
	require.NoError(t, err)
	_, err = jina.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"x"}})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&jinaCalls))

	oa, err := NewOpenAIProvider("test-key", "", openaiSrv.URL+"/v1", nil)
	require.NoError(t, err)
	_, err = oa.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"x"}})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&openaiCalls))
}

func TestNewProviders_KeyFromEnv(t *testing.T) {
	t.Setenv(EnvJinaAPIKey, "env-key")
	p, err := NewJinaProvider("", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "env-key", p.apiKey)
	assert.Equal(t, DefaultJinaURL, p.url)
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		got, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
			attempts++
			return 0, errors.New("down")
		})
		assert.EqualError(t, err, "down")
		assert.Equal(t, 3, attempts)
	})

	t.Run("validation errors are not retried", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
			attempts++
			return 0, ErrInvalidInput
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 1, attempts)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		_, err := retryWithBackoff(ctx, fastRetry(), func() (int, error) {
			attempts++
			cancel()
			return 0, errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})

	t.Run("default config", func(t *testing.T) {
		cfg := DefaultRetryConfig()
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 100*time.Millisecond, cfg.BaseDelay)
		assert.Equal(t, 5*time.Second, cfg.MaxDelay)
		assert.Equal(t, 2.0, cfg.Multiplier)
	})
}
