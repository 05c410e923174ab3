// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// mismatched or degenerate inputs
	assert.Zero(t, CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model      string   `json:"model"`
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 384, req.Dimensions)
		assert.Equal(t, []string{"first paragraph", "second paragraph"}, req.Input)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{0.1, 0.2}},
				{"embedding": []float64{0.3, 0.4}},
			},
		})
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	vecs, err := embedder.Embed(context.Background(), []string{"first paragraph", "second paragraph"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float64{0.3, 0.4}, vecs[1])
}

func TestOpenAIEmbedderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestOpenAIEmbedderRequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{})
	assert.Error(t, err)
}

func TestHashingEmbedderDeterministic(t *testing.T) {
	embedder := NewHashingEmbedder()

	a, err := embedder.Embed(context.Background(), []string{"mortgage rates held steady this month"})
	require.NoError(t, err)
	b, err := embedder.Embed(context.Background(), []string{"mortgage rates held steady this month"})
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, a[0], b[0])
	assert.Len(t, a[0], 384)

	// identical text is maximally similar, unrelated text is not
	same := CosineSimilarity(a[0], b[0])
	assert.InDelta(t, 1.0, same, 1e-9)

	other, err := embedder.Embed(context.Background(), []string{"provincial land transfer tax exemptions explained"})
	require.NoError(t, err)
	assert.Less(t, CosineSimilarity(a[0], other[0]), same)
}
