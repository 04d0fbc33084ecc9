package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

// snippetNamespace seeds the deterministic object ids of table snippets.
var snippetNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sqlhelper/table-schema"))

type Column struct {
	Name     string
	Type     string
	Nullable bool
	Key      string
	Default  *string
	Extra    string
}

type Table struct {
	Name    string
	Columns []Column
	Samples []pipeline.Row
}

// Document is one table snippet ready to be stored.
type Document struct {
	ID      strfmt.UUID
	Table   string
	Content string
	Hash    string
	Vector  []float32
}

// Render formats a table as the snippet the selector and synthesizer read.
func Render(t Table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table: %s\nColumns:\n", t.Name)
	for _, c := range t.Columns {
		fmt.Fprintf(&sb, "- %s %s", c.Name, c.Type)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if c.Key != "" {
			fmt.Fprintf(&sb, " KEY=%s", c.Key)
		}
		if c.Default != nil {
			fmt.Fprintf(&sb, " DEFAULT %s", *c.Default)
		}
		if c.Extra != "" {
			fmt.Fprintf(&sb, " %s", c.Extra)
		}
		sb.WriteString("\n")
	}
	if len(t.Samples) > 0 {
		sb.WriteString("Sample rows:\n")
		for _, row := range pipeline.TruncateRows(t.Samples, pipeline.DefaultTruncateLength) {
			b, err := json.Marshal(row)
			if err != nil {
				continue
			}
			sb.Write(b)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ObjectID is stable per table name, so re-indexing overwrites in place.
func ObjectID(table string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(snippetNamespace, []byte(table)).String())
}

func newDocument(t Table) Document {
	content := Render(t)
	return Document{
		ID:      ObjectID(t.Name),
		Table:   t.Name,
		Content: content,
		Hash:    ContentHash(content),
	}
}
