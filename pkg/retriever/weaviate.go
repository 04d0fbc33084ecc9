// Package retriever returns candidate schema snippets for a question.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
	"github.com/sqlhelper/sqlhelper/pkg/vectorstore"
)

// searchFunc runs a nearVector query and returns the raw GraphQL response.
type searchFunc func(ctx context.Context, vector []float32, limit int) (*models.GraphQLResponse, error)

type Config struct {
	Logger    *slog.Logger
	Client    *weaviate.Client
	Embedder  llm.Embedder
	ClassName string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Client == nil {
		return fmt.Errorf("weaviate client is required")
	}
	if cfg.Embedder == nil {
		return fmt.Errorf("embedder is required")
	}
	if cfg.ClassName == "" {
		cfg.ClassName = vectorstore.DefaultClassName
	}
	return nil
}

// Weaviate ranks indexed snippets by vector similarity to the question.
type Weaviate struct {
	log      *slog.Logger
	class    string
	embedder llm.Embedder
	search   searchFunc
}

func NewWeaviate(cfg Config) (*Weaviate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate retriever config: %w", err)
	}
	client, class := cfg.Client, cfg.ClassName
	search := func(ctx context.Context, vector []float32, limit int) (*models.GraphQLResponse, error) {
		nearVector := client.GraphQL().NearVectorArgBuilder().WithVector(vector)
		return client.GraphQL().Get().
			WithClassName(class).
			WithFields(graphql.Field{Name: vectorstore.PropContent}).
			WithNearVector(nearVector).
			WithLimit(limit).
			Do(ctx)
	}
	return &Weaviate{
		log:      cfg.Logger,
		class:    class,
		embedder: cfg.Embedder,
		search:   search,
	}, nil
}

func (w *Weaviate) Retrieve(ctx context.Context, question string, count int) ([]string, error) {
	if count <= 0 {
		return nil, pipeline.ErrInvalidCount
	}

	vecs, err := w.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}

	resp, err := w.search(ctx, vecs[0], count)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	snippets, err := parseContents(resp, w.class)
	if err != nil {
		return nil, err
	}
	if len(snippets) > count {
		snippets = snippets[:count]
	}
	w.log.Debug("retriever: retrieved snippets", "count", len(snippets), "requested", count)
	return snippets, nil
}

// parseContents extracts the content property of each hit, in rank order. A
// class that has never been written is reported by Weaviate as an unknown
// field and treated as an empty index.
func parseContents(resp *models.GraphQLResponse, class string) ([]string, error) {
	if resp == nil {
		return []string{}, nil
	}
	if len(resp.Errors) > 0 {
		msg := resp.Errors[0].Message
		if strings.Contains(msg, "Cannot query field \""+class+"\"") {
			return []string{}, nil
		}
		return nil, fmt.Errorf("weaviate search error: %s", msg)
	}

	get, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return []string{}, nil
	}
	objects, ok := get[class].([]interface{})
	if !ok {
		return []string{}, nil
	}

	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		if content, ok := props[vectorstore.PropContent].(string); ok && content != "" {
			out = append(out, content)
		}
	}
	return out, nil
}
