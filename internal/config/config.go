// Package config loads and validates the YAML/JSON configuration for an
// optimization run, mirroring how the rest of this module's ambient stack
// loads configuration: shell-style environment expansion, then strict
// unmarshal, then struct-tag validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/shell"

	gepa "github.com/scale3labs/gepa-optimizer"
)

// DimensionConfig is one entry of the dimensions map in a run config file.
type DimensionConfig struct {
	Description string  `yaml:"description" json:"description" jsonschema:"What this dimension measures."`
	Weight      float64 `yaml:"weight" json:"weight" validate:"gt=0" jsonschema:"Relative weight in the overall-score average."`
}

// JudgeConfig mirrors gepa.JudgeConfig's configurable instruction strings.
type JudgeConfig struct {
	PositiveFeedbackInstruction string `yaml:"positive_feedback_instruction,omitempty" json:"positive_feedback_instruction,omitempty"`
	NegativeFeedbackInstruction string `yaml:"negative_feedback_instruction,omitempty" json:"negative_feedback_instruction,omitempty"`
	ComparisonPositive          string `yaml:"comparison_positive,omitempty" json:"comparison_positive,omitempty"`
	ComparisonNegative          string `yaml:"comparison_negative,omitempty" json:"comparison_negative,omitempty"`
}

// RunConfig is the top-level configuration for an optimization run: the
// knobs enumerated in spec.md §6, plus where to find the seed prompt and
// sample pool.
type RunConfig struct {
	OptimizationModel string                     `yaml:"optimization_model" json:"optimization_model" validate:"required" jsonschema:"Anthropic model ID that generates candidate trajectories."`
	ReflectionModel   string                     `yaml:"reflection_model" json:"reflection_model" validate:"required" jsonschema:"Anthropic model ID that judges trajectories and rewrites prompts."`
	SeedPromptFile    string                     `yaml:"seed_prompt_file" json:"seed_prompt_file" validate:"required" jsonschema:"Path to the initial system prompt text."`
	SamplesFile       string                     `yaml:"samples_file" json:"samples_file" validate:"required" jsonschema:"Path to a JSON array of samples."`
	Dimensions        map[string]DimensionConfig `yaml:"dimensions,omitempty" json:"dimensions,omitempty" jsonschema:"Named, weighted scoring dimensions. Defaults to a single accuracy dimension."`
	SelectedMetrics   []string                   `yaml:"selected_metrics,omitempty" json:"selected_metrics,omitempty" jsonschema:"Subset of dimensions active for this run. If empty, or if none of the names is configured, the single built-in accuracy dimension is used."`
	BatchSize         int                        `yaml:"batch_size,omitempty" json:"batch_size,omitempty" validate:"omitempty,gte=1" jsonschema:"Samples drawn per iteration. Default 3."`
	// Pointer so an explicit num_rollouts: 0 in the config file is
	// distinguishable from the field being absent entirely.
	NumRollouts         *int        `yaml:"num_rollouts,omitempty" json:"num_rollouts,omitempty" validate:"omitempty,gte=0" jsonschema:"Iteration budget. Default 10."`
	UseStructuredOutput bool        `yaml:"use_structured_output,omitempty" json:"use_structured_output,omitempty" jsonschema:"Drive the task model with a forced structured response instead of free text. The run command supplies no response schema, so a run with this set ends with a missing_schema error."`
	MaxParallel         int         `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty" validate:"omitempty,gte=1" jsonschema:"Bound on concurrent (generate, judge) pairs. Default 4."`
	MaxSteps            int         `yaml:"max_steps,omitempty" json:"max_steps,omitempty" validate:"omitempty,gte=1" jsonschema:"Bound on recorded agentic steps per trajectory. Default 5."`
	Selector            string      `yaml:"selector,omitempty" json:"selector,omitempty" validate:"omitempty,oneof=current_best pareto" jsonschema:"Parent-selection strategy: current_best or pareto."`
	CallTimeoutSeconds  int         `yaml:"call_timeout_seconds,omitempty" json:"call_timeout_seconds,omitempty" validate:"omitempty,gte=1" jsonschema:"Per-model-call timeout. Default 60."`
	JudgeConfig         JudgeConfig `yaml:"judge_config,omitempty" json:"judge_config,omitempty"`
	EventLogFile        string      `yaml:"event_log_file,omitempty" json:"event_log_file,omitempty" jsonschema:"Optional path to write a JSONL event log to; an existing file is overwritten."`

	MaxTokens           int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" validate:"omitempty,gte=1" jsonschema:"Max tokens per model call. Default 4096."`
	EnablePromptCaching bool   `yaml:"enable_prompt_caching,omitempty" json:"enable_prompt_caching,omitempty" jsonschema:"Attach ephemeral cache breakpoints to system prompts and tool definitions."`
	CacheTTL            string `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty" validate:"omitempty,oneof=5m 1h" jsonschema:"Prompt cache TTL: 5m (default) or 1h."`
}

// LoadRunConfig loads and validates a run configuration from a YAML or JSON
// file, expanding ${VAR} / ${VAR:-default} environment references first.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded, err := shell.Expand(string(data), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	var cfg RunConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported file extension: %s (expected .yaml, .yml, or .json)", ext)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ResolveDimensions converts the config's dimension map into gepa.Dimensions,
// falling back to gepa.DefaultDimensions when none are configured.
func (c *RunConfig) ResolveDimensions() gepa.Dimensions {
	if len(c.Dimensions) == 0 {
		return gepa.DefaultDimensions()
	}
	dims := make(gepa.Dimensions, len(c.Dimensions))
	for name, d := range c.Dimensions {
		dims[name] = gepa.Dimension{Description: d.Description, Weight: d.Weight}
	}
	return dims
}

// ToOptimizeRequest converts the loaded config into a gepa.OptimizeRequest.
// ResponseSchema is left nil; a caller driving structured mode must set it
// from its own task-specific schema.
func (c *RunConfig) ToOptimizeRequest() gepa.OptimizeRequest {
	req := gepa.OptimizeRequest{
		OptimizationModel:   c.OptimizationModel,
		ReflectionModel:     c.ReflectionModel,
		BatchSize:           c.BatchSize,
		NumRollouts:         c.NumRollouts,
		SelectedMetrics:     c.SelectedMetrics,
		UseStructuredOutput: c.UseStructuredOutput,
		MaxParallel:         c.MaxParallel,
		MaxSteps:            c.MaxSteps,
		Selector:            gepa.SelectorKind(c.Selector),
		CallTimeoutSeconds:  c.CallTimeoutSeconds,
		JudgeConfig: gepa.JudgeConfig{
			PositiveFeedbackInstruction: c.JudgeConfig.PositiveFeedbackInstruction,
			NegativeFeedbackInstruction: c.JudgeConfig.NegativeFeedbackInstruction,
			ComparisonPositive:          c.JudgeConfig.ComparisonPositive,
			ComparisonNegative:          c.JudgeConfig.ComparisonNegative,
		},
	}
	return *req.ApplyDefaults()
}

// sampleFile is the on-disk shape of one entry in a samples file: a
// simplified, JSON-friendly projection of gepa.Sample.
type sampleFile struct {
	ID       string `json:"id"`
	Messages []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"messages"`
	Feedback *struct {
		Rating  string `json:"rating"`
		Comment string `json:"comment,omitempty"`
	} `json:"feedback,omitempty"`
}

// LoadSamples reads a JSON array of samples from path. Each message's
// content is a single text part; richer tool-call/tool-result samples are
// constructed programmatically rather than loaded from this simplified file
// format.
func LoadSamples(path string) ([]gepa.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples file: %w", err)
	}

	var raw []sampleFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse samples file: %w", err)
	}

	samples := make([]gepa.Sample, 0, len(raw))
	for _, s := range raw {
		sample := gepa.Sample{ID: s.ID}
		for _, m := range s.Messages {
			sample.Messages = append(sample.Messages, gepa.Message{
				Role:    gepa.Role(m.Role),
				Content: []gepa.Content{gepa.TextContent(m.Text)},
			})
		}
		if s.Feedback != nil {
			sample.Feedback = &gepa.Feedback{
				Rating:  gepa.Rating(s.Feedback.Rating),
				Comment: s.Feedback.Comment,
			}
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// generateSchema builds the jsonschema.Schema for RunConfig, annotated the
// way the ambient config schema generator is: a draft 2020-12 schema with a
// title and description set on top of the struct-reflected properties.
func generateSchema() (*jsonschema.Schema, error) {
	customSchemas := map[reflect.Type]*jsonschema.Schema{}

	opts := &jsonschema.ForOptions{TypeSchemas: customSchemas}
	schema, err := jsonschema.For[RunConfig](opts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JSON schema: %w", err)
	}

	schema.Title = "Prompt Optimization Run Configuration"
	schema.Description = "Configuration schema for running the GEPA-style prompt optimizer."
	schema.Schema = "https://json-schema.org/draft/2020-12/schema"

	return schema, nil
}

// SchemaForRunConfig renders the RunConfig JSON schema as indented JSON.
func SchemaForRunConfig() (string, error) {
	schema, err := generateSchema()
	if err != nil {
		return "", err
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(schemaJSON), nil
}

// ValidationError is a single config validation failure with its location.
type ValidationError struct {
	Path    string
	Message string
}

// ValidationResult is the outcome of validating a config file against the
// generated JSON schema.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidateConfigFile validates path against the RunConfig JSON schema,
// independent of LoadRunConfig's struct-tag validation. YAML is converted
// to JSON before validation since the schema is JSON Schema.
func ValidateConfigFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var jsonData []byte
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		var yamlData any
		if err := yaml.Unmarshal(data, &yamlData); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		jsonData, err = json.Marshal(yamlData)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
		}
	case ".json":
		jsonData = data
	default:
		return nil, fmt.Errorf("unsupported file extension: %s (expected .yaml, .yml, or .json)", ext)
	}

	schema, err := generateSchema()
	if err != nil {
		return nil, err
	}

	var configData any
	if err := json.Unmarshal(jsonData, &configData); err != nil {
		return nil, fmt.Errorf("failed to parse config as JSON: %w", err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}

	validationErr := resolved.Validate(configData)
	result := &ValidationResult{Valid: validationErr == nil}
	if validationErr != nil {
		result.Errors = []ValidationError{{Message: validationErr.Error()}}
	}
	return result, nil
}
