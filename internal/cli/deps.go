package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/anthropics/anthropic-sdk-go"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
	"github.com/sqlhelper/sqlhelper/agent/pkg/stages"
	"github.com/sqlhelper/sqlhelper/pkg/querier"
	"github.com/sqlhelper/sqlhelper/pkg/retriever"
	"github.com/sqlhelper/sqlhelper/pkg/sessions"
	"github.com/sqlhelper/sqlhelper/pkg/vectorstore"
)

const (
	defaultAnthropicMaxTokens = 4096
	defaultWeaviateURL        = "http://localhost:8080"
)

// stack holds the long-lived dependencies shared by the commands.
type stack struct {
	log      *slog.Logger
	db       *sql.DB
	dialect  querier.Dialect
	querier  *querier.Querier
	weaviate *weaviate.Client
	class    string
	embedder llm.Embedder
	closers  []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newStack connects to the target database and the vector store.
func newStack(ctx context.Context, log *slog.Logger) (*stack, error) {
	s := &stack{log: log, class: getenv("WEAVIATE_CLASS", vectorstore.DefaultClassName)}

	db, dialect, err := openDatabase(ctx, log)
	if err != nil {
		return nil, err
	}
	s.db, s.dialect = db, dialect
	s.closers = append(s.closers, func() { _ = db.Close() })

	maxRows, err := getenvInt("QUERY_MAX_ROWS", querier.DefaultMaxRows)
	if err != nil {
		s.Close()
		return nil, err
	}
	timeout, err := getenvDuration("QUERY_TIMEOUT", querier.DefaultQueryTimeout)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.querier, err = querier.New(querier.Config{Logger: log, DB: db, Dialect: dialect, MaxRows: maxRows, QueryTimeout: timeout})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.weaviate, err = vectorstore.NewClient(getenv("WEAVIATE_URL", defaultWeaviateURL), os.Getenv("WEAVIATE_API_KEY"))
	if err != nil {
		s.Close()
		return nil, err
	}

	s.embedder, err = newEmbedder(log)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openDatabase opens the database named by DB_DRIVER and DB_DSN, or builds
// the DSN from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD and DB_NAME.
func openDatabase(ctx context.Context, log *slog.Logger) (*sql.DB, querier.Dialect, error) {
	driver := strings.ToLower(getenv("DB_DRIVER", "mysql"))
	dialect, ok := querier.DialectFor(driver)
	if !ok {
		return nil, "", fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
	driverName := driver
	if dialect == querier.DialectPostgreSQL {
		driverName = "pgx"
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = buildDSN(dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}
	log.Info("cli: connected to database", "dialect", dialect)
	return db, dialect, nil
}

func buildDSN(dialect querier.Dialect) string {
	host := getenv("DB_HOST", "localhost")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	name := os.Getenv("DB_NAME")

	switch dialect {
	case querier.DialectMySQL:
		cfg := mysql.NewConfig()
		cfg.User = user
		cfg.Passwd = password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, getenv("DB_PORT", "3306"))
		cfg.DBName = name
		cfg.ParseTime = true
		return cfg.FormatDSN()
	case querier.DialectPostgreSQL:
		return sessions.ConnString(host, getenv("DB_PORT", "5432"), name, user, password)
	case querier.DialectClickHouse:
		u := url.URL{
			Scheme: "clickhouse",
			User:   url.UserPassword(user, password),
			Host:   net.JoinHostPort(host, getenv("DB_PORT", "9000")),
			Path:   "/" + name,
		}
		return u.String()
	default:
		// DuckDB: a file path, or in-memory when empty.
		return getenv("DB_PATH", "")
	}
}

// newLLMClient picks the generation backend from LLM_PROVIDER, defaulting to
// Anthropic when its key is set and OpenAI otherwise.
func newLLMClient(log *slog.Logger) (llm.Client, error) {
	provider := strings.ToLower(os.Getenv("LLM_PROVIDER"))
	if provider == "" {
		provider = "openai"
		if os.Getenv("ANTHROPIC_API_KEY") != "" {
			provider = "anthropic"
		}
	}

	switch provider {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
		model := anthropic.Model(getenv("ANTHROPIC_MODEL", string(anthropic.ModelClaude3_5Haiku20241022)))
		return llm.NewAnthropic(log, key, model, defaultAnthropicMaxTokens), nil
	case "openai":
		return newOpenAI(log)
	}
	return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", provider)
}

func newOpenAI(log *slog.Logger) (*llm.OpenAI, error) {
	return llm.NewOpenAI(log, llm.OpenAIConfig{
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		BaseURL:        os.Getenv("OPENAI_BASE_URL"),
		Model:          os.Getenv("OPENAI_MODEL"),
		EmbeddingModel: os.Getenv("OPENAI_EMBEDDING_MODEL"),
	})
}

func newEmbedder(log *slog.Logger) (llm.Embedder, error) {
	c, err := newOpenAI(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return c, nil
}

// newOrchestrator assembles the LLM stages, the cached retriever and the
// querier into a turn orchestrator.
func (s *stack) newOrchestrator(policy pipeline.RemediationPolicy) (*pipeline.Orchestrator, error) {
	client, err := newLLMClient(s.log)
	if err != nil {
		return nil, err
	}
	prompts, err := stages.LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	stageCfg := stages.Config{Logger: s.log, LLM: client, Prompts: prompts, Dialect: string(s.dialect)}

	classifier, err := stages.NewIntentClassifier(stageCfg)
	if err != nil {
		return nil, err
	}
	selector, err := stages.NewContextSelector(stageCfg)
	if err != nil {
		return nil, err
	}
	synthesizer, err := stages.NewQuerySynthesizer(stageCfg)
	if err != nil {
		return nil, err
	}
	responder, err := stages.NewResponder(stageCfg)
	if err != nil {
		return nil, err
	}

	wv, err := retriever.NewWeaviate(retriever.Config{
		Logger:    s.log,
		Client:    s.weaviate,
		Embedder:  s.embedder,
		ClassName: s.class,
	})
	if err != nil {
		return nil, err
	}
	ttl, err := getenvDuration("RETRIEVAL_CACHE_TTL", retriever.DefaultCacheTTL)
	if err != nil {
		return nil, err
	}
	cached := retriever.NewCached(wv, ttl, 1024)
	go cached.Start()
	s.closers = append(s.closers, cached.Stop)

	return pipeline.New(pipeline.Config{
		Logger:      s.log,
		Classifier:  classifier,
		Retriever:   cached,
		Selector:    selector,
		Synthesizer: synthesizer,
		Executor:    s.querier,
		Responder:   responder,
		Policy:      policy,
		Clock:       clockwork.NewRealClock(),
	})
}
