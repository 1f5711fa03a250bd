package commands

import (
	"fmt"

	"github.com/scale3labs/gepa-optimizer/internal/config"
)

// ValidateCmd validates a run configuration file against its JSON Schema.
type ValidateCmd struct {
	Config string `arg:"" help:"Path to a run configuration file (YAML or JSON)." type:"path"`
}

// Run executes the validate command.
func (v *ValidateCmd) Run(globals *Globals) error {
	result, err := config.ValidateConfigFile(v.Config)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if result.Valid {
		fmt.Printf("valid configuration: %s\n", v.Config)
		return nil
	}

	fmt.Printf("configuration has %d error(s):\n\n", len(result.Errors))
	for i, verr := range result.Errors {
		if verr.Path != "" {
			fmt.Printf("%d. [%s] %s\n", i+1, verr.Path, verr.Message)
		} else {
			fmt.Printf("%d. %s\n", i+1, verr.Message)
		}
	}
	fmt.Println()

	return fmt.Errorf("validation failed")
}
