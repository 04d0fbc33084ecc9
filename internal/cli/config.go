package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

// fileConfig is the YAML settings file named by --config or SQLHELPER_CONFIG.
// Flags and environment variables take precedence over it.
type fileConfig struct {
	Turn        turnSettings        `yaml:"turn"`
	Remediation remediationSettings `yaml:"remediation"`
}

type turnSettings struct {
	StepBudget       *int `yaml:"recursion_limit"`
	ContextCount     *int `yaml:"context_count"`
	MaxFixAttempts   *int `yaml:"max_query_fix"`
	FixAttemptsStart *int `yaml:"query_fix_count"`
	SampleInfo       *int `yaml:"sample_info"`
}

type remediationSettings struct {
	Empty          string `yaml:"empty"`
	AllNull        string `yaml:"all_null"`
	ExecutionFault string `yaml:"execution_fault"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func configFromFlags(cmd *cobra.Command) (*fileConfig, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = os.Getenv("SQLHELPER_CONFIG")
	}
	return loadFileConfig(path)
}

func (c *fileConfig) turnConfig() pipeline.TurnConfig {
	tc := pipeline.DefaultTurnConfig()
	tc.FixAttemptsStart = 0
	for _, s := range []struct {
		src *int
		dst *int
	}{
		{c.Turn.StepBudget, &tc.StepBudget},
		{c.Turn.ContextCount, &tc.ContextCount},
		{c.Turn.MaxFixAttempts, &tc.MaxFixAttempts},
		{c.Turn.FixAttemptsStart, &tc.FixAttemptsStart},
		{c.Turn.SampleInfo, &tc.SampleInfo},
	} {
		if s.src != nil {
			*s.dst = *s.src
		}
	}
	return tc
}

// policy layers the file's routes and then REMEDIATE_EMPTY,
// REMEDIATE_ALL_NULL and REMEDIATE_EXEC_FAULT over the default policy.
func (c *fileConfig) policy() (pipeline.RemediationPolicy, error) {
	p := pipeline.DefaultPolicy()
	for _, s := range []struct {
		file string
		env  string
		dst  *pipeline.Route
	}{
		{c.Remediation.Empty, "REMEDIATE_EMPTY", &p.Empty},
		{c.Remediation.AllNull, "REMEDIATE_ALL_NULL", &p.AllNull},
		{c.Remediation.ExecutionFault, "REMEDIATE_EXEC_FAULT", &p.ExecutionFault},
	} {
		if s.file != "" {
			*s.dst = pipeline.Route(strings.ToUpper(s.file))
		}
		if v := os.Getenv(s.env); v != "" {
			*s.dst = pipeline.Route(strings.ToUpper(v))
		}
	}
	if err := p.Validate(); err != nil {
		return pipeline.RemediationPolicy{}, fmt.Errorf("invalid remediation policy: %w", err)
	}
	return p, nil
}
