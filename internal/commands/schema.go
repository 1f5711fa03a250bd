package commands

import (
	"fmt"

	"github.com/scale3labs/gepa-optimizer/internal/config"
)

// SchemaCmd prints the JSON Schema for a run configuration file.
type SchemaCmd struct{}

// Run executes the schema command.
func (s *SchemaCmd) Run(globals *Globals) error {
	schema, err := config.SchemaForRunConfig()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schema)
	return nil
}
