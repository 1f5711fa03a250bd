// Package commands implements the gepa-optimize CLI's kong command tree.
package commands

import (
	"time"

	"github.com/scale3labs/gepa-optimizer/internal/anthropicmodel"
)

// Globals holds flags shared across every subcommand.
type Globals struct {
	APIKey  string `env:"ANTHROPIC_API_KEY" help:"Anthropic API key." required:""`
	BaseURL string `env:"ANTHROPIC_BASE_URL" help:"Override the default Anthropic API endpoint."`
	Quiet   bool   `short:"q" help:"Suppress live progress output."`
}

func (g *Globals) newClient(maxTokens int, callTimeoutSeconds int, enableCaching bool, cacheTTL string) *anthropicmodel.Client {
	var timeout time.Duration
	if callTimeoutSeconds > 0 {
		timeout = time.Duration(callTimeoutSeconds) * time.Second
	}
	return anthropicmodel.New(anthropicmodel.Config{
		APIKey:              g.APIKey,
		BaseURL:             g.BaseURL,
		MaxTokens:           maxTokens,
		EnablePromptCaching: enableCaching,
		CacheTTL:            cacheTTL,
		CallTimeout:         timeout,
	})
}
