package retriever

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func hits(class string, contents ...string) *models.GraphQLResponse {
	objs := make([]interface{}, 0, len(contents))
	for _, c := range contents {
		objs = append(objs, map[string]interface{}{"content": c})
	}
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{class: objs},
		},
	}
}

func newTestWeaviate(embedder *mockEmbedder, search searchFunc) *Weaviate {
	return &Weaviate{
		log:      testLogger(),
		class:    "TableSchema",
		embedder: embedder,
		search:   search,
	}
}

func TestWeaviate_Retrieve(t *testing.T) {
	t.Parallel()

	var gotLimit int
	var gotVector []float32
	w := newTestWeaviate(&mockEmbedder{}, func(_ context.Context, vector []float32, limit int) (*models.GraphQLResponse, error) {
		gotLimit, gotVector = limit, vector
		return hits("TableSchema", "orders: id, total", "users: id, name"), nil
	})

	got, err := w.Retrieve(context.Background(), "how many orders?", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders: id, total", "users: id, name"}, got)
	assert.Equal(t, 2, gotLimit)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, gotVector)
}

func TestWeaviate_Retrieve_CapsAtCount(t *testing.T) {
	t.Parallel()

	w := newTestWeaviate(&mockEmbedder{}, func(context.Context, []float32, int) (*models.GraphQLResponse, error) {
		return hits("TableSchema", "a", "b", "c"), nil
	})
	got, err := w.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestWeaviate_Retrieve_InvalidCount(t *testing.T) {
	t.Parallel()

	emb := &mockEmbedder{}
	w := newTestWeaviate(emb, nil)
	for _, count := range []int{0, -1} {
		_, err := w.Retrieve(context.Background(), "q", count)
		require.ErrorIs(t, err, pipeline.ErrInvalidCount)
	}
	assert.Zero(t, emb.calls)
}

func TestWeaviate_Retrieve_Errors(t *testing.T) {
	t.Parallel()

	t.Run("embed", func(t *testing.T) {
		t.Parallel()
		w := newTestWeaviate(&mockEmbedder{err: errors.New("rate limited")}, nil)
		_, err := w.Retrieve(context.Background(), "q", 3)
		require.ErrorContains(t, err, "failed to embed question")
	})

	t.Run("search", func(t *testing.T) {
		t.Parallel()
		w := newTestWeaviate(&mockEmbedder{}, func(context.Context, []float32, int) (*models.GraphQLResponse, error) {
			return nil, errors.New("connection refused")
		})
		_, err := w.Retrieve(context.Background(), "q", 3)
		require.ErrorContains(t, err, "connection refused")
	})

	t.Run("graphql", func(t *testing.T) {
		t.Parallel()
		w := newTestWeaviate(&mockEmbedder{}, func(context.Context, []float32, int) (*models.GraphQLResponse, error) {
			return &models.GraphQLResponse{Errors: []*models.GraphQLError{{Message: "vector dimension mismatch"}}}, nil
		})
		_, err := w.Retrieve(context.Background(), "q", 3)
		require.ErrorContains(t, err, "vector dimension mismatch")
	})
}

func TestParseContents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *models.GraphQLResponse
		want []string
	}{
		{name: "nil response", resp: nil, want: []string{}},
		{
			name: "missing class",
			resp: &models.GraphQLResponse{Errors: []*models.GraphQLError{{
				Message: `Cannot query field "TableSchema" on type "GetObjectsObj".`,
			}}},
			want: []string{},
		},
		{name: "no Get", resp: &models.GraphQLResponse{Data: map[string]models.JSONObject{}}, want: []string{}},
		{name: "skips empty content", resp: hits("TableSchema", "a", "", "b"), want: []string{"a", "b"}},
		{name: "other class", resp: hits("Other", "a"), want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseContents(tt.resp, "TableSchema")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{Logger: testLogger(), Embedder: &mockEmbedder{}}
	require.ErrorContains(t, cfg.Validate(), "weaviate client is required")

	cfg = Config{}
	require.ErrorContains(t, cfg.Validate(), "logger is required")
}

type countingRetriever struct {
	calls atomic.Int32
	err   error
}

func (c *countingRetriever) Retrieve(_ context.Context, question string, count int) ([]string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []string{question}, nil
}

func TestCached_Retrieve(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{}
	c := NewCached(inner, 0, 0)
	ctx := context.Background()

	first, err := c.Retrieve(ctx, "How many  orders?", 5)
	require.NoError(t, err)
	second, err := c.Retrieve(ctx, "how many orders?", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, inner.calls.Load())

	_, err = c.Retrieve(ctx, "how many orders?", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls.Load(), "count is part of the key")

	c.Invalidate()
	_, err = c.Retrieve(ctx, "how many orders?", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	inner := &countingRetriever{err: errors.New("down")}
	c := NewCached(inner, 0, 0)

	_, err := c.Retrieve(context.Background(), "q", 1)
	require.Error(t, err)
	_, err = c.Retrieve(context.Background(), "q", 1)
	require.Error(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())

	_, err = c.Retrieve(context.Background(), "q", 0)
	require.ErrorIs(t, err, pipeline.ErrInvalidCount)
}
