package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/sqlhelper/sqlhelper/pkg/vectorstore"
)

// maxStoredTables bounds the hash listing; schemas larger than this are
// re-embedded in full on every run.
const maxStoredTables = 10000

// WeaviateStore writes snippets to the shared vectorstore class.
type WeaviateStore struct {
	log   *slog.Logger
	class string

	list   func(ctx context.Context) (*models.GraphQLResponse, error)
	batch  func(ctx context.Context, objs []*models.Object) ([]models.ObjectsGetResponse, error)
	delete func(ctx context.Context, id strfmt.UUID) error
}

func NewWeaviateStore(log *slog.Logger, client *weaviate.Client, class string) *WeaviateStore {
	if class == "" {
		class = vectorstore.DefaultClassName
	}
	return &WeaviateStore{
		log:   log,
		class: class,
		list: func(ctx context.Context) (*models.GraphQLResponse, error) {
			return client.GraphQL().Get().
				WithClassName(class).
				WithFields(
					graphql.Field{Name: vectorstore.PropTable},
					graphql.Field{Name: vectorstore.PropContentHash},
				).
				WithLimit(maxStoredTables).
				Do(ctx)
		},
		batch: func(ctx context.Context, objs []*models.Object) ([]models.ObjectsGetResponse, error) {
			return client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
		},
		delete: func(ctx context.Context, id strfmt.UUID) error {
			return client.Data().Deleter().WithClassName(class).WithID(id.String()).Do(ctx)
		},
	}
}

func (s *WeaviateStore) Hashes(ctx context.Context) (map[string]string, error) {
	resp, err := s.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list snippets: %w", err)
	}
	out := map[string]string{}
	if resp == nil {
		return out, nil
	}
	if len(resp.Errors) > 0 {
		if strings.Contains(resp.Errors[0].Message, "Cannot query field") {
			return out, nil
		}
		return nil, fmt.Errorf("failed to list snippets: %s", resp.Errors[0].Message)
	}
	get, _ := resp.Data["Get"].(map[string]interface{})
	objects, _ := get[s.class].([]interface{})
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		table, _ := props[vectorstore.PropTable].(string)
		hash, _ := props[vectorstore.PropContentHash].(string)
		if table != "" {
			out[table] = hash
		}
	}
	return out, nil
}

func (s *WeaviateStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	objs := make([]*models.Object, len(docs))
	for i, d := range docs {
		objs[i] = &models.Object{
			Class: s.class,
			ID:    d.ID,
			Properties: map[string]interface{}{
				vectorstore.PropTable:       d.Table,
				vectorstore.PropContent:     d.Content,
				vectorstore.PropContentHash: d.Hash,
			},
			Vector: d.Vector,
		}
	}

	results, err := s.batch(ctx, objs)
	if err != nil {
		return fmt.Errorf("batch import failed: %w", err)
	}
	var failed []string
	for _, r := range results {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			failed = append(failed, fmt.Sprintf("%s: %s", r.ID, e.Message))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch import rejected %d objects: %s", len(failed), strings.Join(failed, "; "))
	}
	s.log.Debug("indexer: upserted snippets", "count", len(docs))
	return nil
}

func (s *WeaviateStore) Delete(ctx context.Context, tables []string) error {
	for _, t := range tables {
		if err := s.delete(ctx, ObjectID(t)); err != nil {
			return fmt.Errorf("failed to delete snippet for %s: %w", t, err)
		}
	}
	return nil
}
