package stages

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type llmCall struct {
	system string
	user   string
	opts   llm.CompleteOptions
}

// mockLLMClient returns scripted responses in order.
type mockLLMClient struct {
	responses []string
	err       error

	mu    sync.Mutex
	calls []llmCall
}

func (m *mockLLMClient) Complete(_ context.Context, systemPrompt, userPrompt string, opts ...llm.CompleteOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var o llm.CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	m.calls = append(m.calls, llmCall{system: systemPrompt, user: userPrompt, opts: o})
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func testConfig(t *testing.T, client llm.Client) Config {
	t.Helper()
	p, err := LoadPrompts()
	require.NoError(t, err)
	return Config{Logger: testLogger(), LLM: client, Prompts: p}
}

func TestLoadPrompts(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)
	for name, s := range map[string]string{
		"classify": p.Classify, "casual": p.Casual, "select": p.Select, "reselect": p.Reselect,
		"generate": p.Generate, "regenerate": p.Regenerate, "respond": p.Respond, "failure": p.Failure,
	} {
		assert.NotEmpty(t, s, name)
	}
	assert.Contains(t, p.Generate, "{{CONTEXT}}")
	assert.Contains(t, p.Regenerate, "{{PRIOR_QUERY}}")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	require.EqualError(t, cfg.Validate(), "logger is required")
	cfg.Logger = testLogger()
	require.EqualError(t, cfg.Validate(), "llm client is required")
	cfg.LLM = &mockLLMClient{}
	require.EqualError(t, cfg.Validate(), "prompts are required")
	cfg.Prompts = &Prompts{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDialect, cfg.Dialect)
}

func TestIntentClassifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		output  string
		want    pipeline.Intent
		wantErr bool
	}{
		{name: "business", output: "1", want: pipeline.IntentBusiness},
		{name: "casual", output: "0", want: pipeline.IntentCasual},
		{name: "whitespace and quotes", output: " \"1\"\n", want: pipeline.IntentBusiness},
		{name: "backticks", output: "`0`", want: pipeline.IntentCasual},
		{name: "prose", output: "This is a business question", wantErr: true},
		{name: "other digit", output: "2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := &mockLLMClient{responses: []string{tt.output}}
			c, err := NewIntentClassifier(testConfig(t, client))
			require.NoError(t, err)

			got, err := c.Classify(context.Background(), "how many users signed up?")
			if tt.wantErr {
				require.ErrorIs(t, err, pipeline.ErrMalformedIntent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, client.calls[0].user, "how many users signed up?")
			assert.True(t, client.calls[0].opts.CacheSystemPrompt)
		})
	}
}

func TestIntentClassifier_LLMError(t *testing.T) {
	t.Parallel()

	c, err := NewIntentClassifier(testConfig(t, &mockLLMClient{err: errors.New("rate limited")}))
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "q")
	require.ErrorContains(t, err, "rate limited")
	assert.NotErrorIs(t, err, pipeline.ErrMalformedIntent)
}

func TestContextSelector_Keep(t *testing.T) {
	t.Parallel()

	client := &mockLLMClient{responses: []string{`{"ids": [2, null, 0, 7, 2]}`}}
	s, err := NewContextSelector(testConfig(t, client))
	require.NoError(t, err)

	ids, err := s.Select(context.Background(), pipeline.SelectRequest{
		Question:   "top customers",
		Candidates: []string{"customers", "orders", "payments"},
		Mode:       pipeline.ModeKeep,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, ids)

	call := client.calls[0]
	assert.Contains(t, call.user, "0.\ncustomers\n\n1.\norders\n\n2.\npayments\n\n")
	assert.NotContains(t, call.system, "previous attempt")
	require.NotNil(t, call.opts.Schema)
	assert.Equal(t, "context_list", call.opts.SchemaName)
}

func TestContextSelector_ReselectIncludesPriorAttempt(t *testing.T) {
	t.Parallel()

	client := &mockLLMClient{responses: []string{"Sure! ```json\n{\"ids\": [1]}\n```"}}
	s, err := NewContextSelector(testConfig(t, client))
	require.NoError(t, err)

	ids, err := s.Select(context.Background(), pipeline.SelectRequest{
		Question:       "q",
		Candidates:     []string{"a", "b"},
		Mode:           pipeline.ModeReselect,
		PriorSelection: []int{0},
		PriorQuery:     "SELECT x FROM a;",
		PriorFailure:   &pipeline.Failure{Kind: pipeline.KindAllNull, Detail: "SQL query only returns NULL for every column."},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids)

	system := client.calls[0].system
	assert.Contains(t, system, "[0]")
	assert.Contains(t, system, "SELECT x FROM a;")
	assert.Contains(t, system, "ALL_NULL")
	assert.NotContains(t, system, "{{")
}

func TestContextSelector_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no candidates skips the llm", func(t *testing.T) {
		t.Parallel()
		client := &mockLLMClient{}
		s, err := NewContextSelector(testConfig(t, client))
		require.NoError(t, err)
		ids, err := s.Select(context.Background(), pipeline.SelectRequest{Question: "q"})
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Empty(t, client.calls)
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		s, err := NewContextSelector(testConfig(t, &mockLLMClient{responses: []string{"tables 1 and 2"}}))
		require.NoError(t, err)
		_, err = s.Select(context.Background(), pipeline.SelectRequest{Question: "q", Candidates: []string{"a"}})
		require.ErrorContains(t, err, "failed to parse context selection")
	})
}

func TestExtractSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "fenced", in: "Here you go:\n```sql\nSELECT id FROM users;\n```\nDone.", want: "SELECT id FROM users;"},
		{name: "fenced multiline", in: "```sql\nSELECT id,\n  name\nFROM users\nWHERE id > 1;\n```", want: "SELECT id,\n  name\nFROM users\nWHERE id > 1;"},
		{name: "first fenced block wins", in: "```sql\nSELECT 1;\n```\n```sql\nSELECT 2;\n```", want: "SELECT 1;"},
		{name: "bare select", in: "The query is SELECT count(*) FROM orders; which counts orders.", want: "SELECT count(*) FROM orders;"},
		{name: "bare select lower case", in: "select 1 from dual;", want: "select 1 from dual;"},
		{name: "empty fence falls back", in: "```sql\n```\nSELECT 3;", want: "SELECT 3;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractSQL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, in := range []string{"", "I cannot answer that.", "SELECT without terminator", "```python\nprint(1)\n```"} {
		_, err := ExtractSQL(in)
		assert.ErrorIs(t, err, pipeline.ErrUnparseableOutput, in)
	}
}

func TestQuerySynthesizer(t *testing.T) {
	t.Parallel()

	t.Run("generate", func(t *testing.T) {
		t.Parallel()
		client := &mockLLMClient{responses: []string{"```sql\nSELECT name FROM users LIMIT 5;\n```"}}
		cfg := testConfig(t, client)
		cfg.Dialect = "PostgreSQL"
		s, err := NewQuerySynthesizer(cfg)
		require.NoError(t, err)

		sql, err := s.Synthesize(context.Background(), pipeline.SynthesizeRequest{
			Question: "five users",
			Context:  []string{"TABLE users", "TABLE orders"},
			Mode:     pipeline.ModeKeep,
		})
		require.NoError(t, err)
		assert.Equal(t, "SELECT name FROM users LIMIT 5;", sql)

		call := client.calls[0]
		assert.Contains(t, call.system, "PostgreSQL")
		assert.Contains(t, call.system, "TABLE users\n\nTABLE orders")
		assert.NotContains(t, call.system, "Previous query")
		assert.Equal(t, "user_question: five users", call.user)
	})

	t.Run("regenerate", func(t *testing.T) {
		t.Parallel()
		client := &mockLLMClient{responses: []string{"SELECT 1;"}}
		s, err := NewQuerySynthesizer(testConfig(t, client))
		require.NoError(t, err)

		_, err = s.Synthesize(context.Background(), pipeline.SynthesizeRequest{
			Question:     "q",
			Mode:         pipeline.ModeRegenerate,
			PriorQuery:   "SELECT * FROM t WHERE d = '2020-01-01';",
			PriorFailure: &pipeline.Failure{Kind: pipeline.KindEmpty, Detail: "No rows returned by the SQL query."},
		})
		require.NoError(t, err)

		system := client.calls[0].system
		assert.Contains(t, system, "SELECT * FROM t WHERE d = '2020-01-01';")
		assert.Contains(t, system, "No rows returned")
		assert.False(t, strings.Contains(system, "{{"), "all placeholders must be filled")
	})

	t.Run("unparseable", func(t *testing.T) {
		t.Parallel()
		s, err := NewQuerySynthesizer(testConfig(t, &mockLLMClient{responses: []string{"I don't know"}}))
		require.NoError(t, err)
		_, err = s.Synthesize(context.Background(), pipeline.SynthesizeRequest{Question: "q", Mode: pipeline.ModeKeep})
		require.ErrorIs(t, err, pipeline.ErrUnparseableOutput)
	})

	t.Run("llm error is not unparseable", func(t *testing.T) {
		t.Parallel()
		s, err := NewQuerySynthesizer(testConfig(t, &mockLLMClient{err: errors.New("timeout")}))
		require.NoError(t, err)
		_, err = s.Synthesize(context.Background(), pipeline.SynthesizeRequest{Question: "q", Mode: pipeline.ModeKeep})
		require.Error(t, err)
		assert.NotErrorIs(t, err, pipeline.ErrUnparseableOutput)
	})
}

func TestResponder(t *testing.T) {
	t.Parallel()

	t.Run("business", func(t *testing.T) {
		t.Parallel()
		client := &mockLLMClient{responses: []string{"There are 42 orders."}}
		r, err := NewResponder(testConfig(t, client))
		require.NoError(t, err)

		out, err := r.RespondBusiness(context.Background(), "how many orders?", "SELECT count(*) AS n FROM orders;", []pipeline.Row{{"n": 42}})
		require.NoError(t, err)
		assert.Equal(t, "There are 42 orders.", out)
		assert.Contains(t, client.calls[0].system, `[{"n":42}]`)
		assert.Contains(t, client.calls[0].system, "SELECT count(*) AS n FROM orders;")
		assert.Equal(t, "how many orders?", client.calls[0].user)
	})

	t.Run("business without rows", func(t *testing.T) {
		t.Parallel()
		client := &mockLLMClient{responses: []string{"None."}}
		r, err := NewResponder(testConfig(t, client))
		require.NoError(t, err)
		_, err = r.RespondBusiness(context.Background(), "q", "SELECT 1;", nil)
		require.NoError(t, err)
		assert.Contains(t, client.calls[0].system, "(no rows)")
	})

	t.Run("casual", func(t *testing.T) {
		t.Parallel()
		client := &mockLLMClient{responses: []string{"Hello!"}}
		r, err := NewResponder(testConfig(t, client))
		require.NoError(t, err)
		out, err := r.RespondCasual(context.Background(), "hi")
		require.NoError(t, err)
		assert.Equal(t, "Hello!", out)
		assert.Equal(t, "hi", client.calls[0].user)
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()
		client := &mockLLMClient{responses: []string{"Sorry."}}
		r, err := NewResponder(testConfig(t, client))
		require.NoError(t, err)
		_, err = r.RespondFailure(context.Background(), "q", &pipeline.Failure{Kind: pipeline.KindBudgetExhausted, Detail: "gave up"})
		require.NoError(t, err)
		assert.Contains(t, client.calls[0].system, "BUDGET_EXHAUSTED")
		assert.Contains(t, client.calls[0].system, "gave up")
	})

	t.Run("llm error", func(t *testing.T) {
		t.Parallel()
		r, err := NewResponder(testConfig(t, &mockLLMClient{err: errors.New("down")}))
		require.NoError(t, err)
		_, err = r.RespondCasual(context.Background(), "hi")
		require.ErrorContains(t, err, "down")
	})
}
