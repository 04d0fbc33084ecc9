// Package vectorstore holds the Weaviate class that stores table schema
// snippets, shared by the indexer (writer) and the retriever (reader).
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	DefaultClassName = "TableSchema"

	PropTable       = "table"
	PropContent     = "content"
	PropContentHash = "contentHash"
)

// NewClient creates a Weaviate client from a URL such as
// http://localhost:8080.
func NewClient(rawURL, apiKey string) (*weaviate.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid weaviate url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q: missing host", rawURL)
	}
	cfg := weaviate.Config{
		Host:   u.Host,
		Scheme: u.Scheme,
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if apiKey != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return client, nil
}

// Class returns the schema of the snippet class. Vectors are supplied by the
// indexer, so no vectorizer module is configured.
func Class(name string) *models.Class {
	indexFilterable := true
	return &models.Class{
		Class:       name,
		Description: "Table schema descriptions used to ground SQL generation",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            PropTable,
				DataType:        []string{"text"},
				Description:     "Table name",
				IndexFilterable: &indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        PropContent,
				DataType:    []string{"text"},
				Description: "Schema and sample rows of the table",
			},
			{
				Name:            PropContentHash,
				DataType:        []string{"text"},
				Description:     "sha256 of content",
				IndexFilterable: &indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureSchema creates the class if it does not exist.
func EnsureSchema(ctx context.Context, log *slog.Logger, client *weaviate.Client, name string) error {
	if _, err := client.Schema().ClassGetter().WithClassName(name).Do(ctx); err == nil {
		log.Debug("vectorstore: class already exists", "class", name)
		return nil
	}
	log.Info("vectorstore: creating class", "class", name)
	if err := client.Schema().ClassCreator().WithClass(Class(name)).Do(ctx); err != nil {
		return fmt.Errorf("failed to create class %s: %w", name, err)
	}
	return nil
}
