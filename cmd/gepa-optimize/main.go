// Command gepa-optimize runs the iterative prompt optimization loop against
// an Anthropic model, either end to end (run) or against a previously
// recorded event log (report).
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/scale3labs/gepa-optimizer/internal/commands"
	"github.com/scale3labs/gepa-optimizer/internal/help"
)

var cli struct {
	commands.Globals

	Run      commands.RunCmd      `cmd:"" help:"Run a prompt optimization from a config file."`
	Report   commands.ReportCmd   `cmd:"" help:"Render a previously recorded event log as a report."`
	Validate commands.ValidateCmd `cmd:"" help:"Validate a run configuration file."`
	Schema   commands.SchemaCmd   `cmd:"" help:"Print the run configuration JSON Schema."`
}

func main() {
	styles := help.DefaultStyles()

	ctx := kong.Parse(&cli,
		kong.Name("gepa-optimize"),
		kong.Description("Iteratively improve a system prompt using LLM-as-judge scoring and Pareto tracking."),
		kong.UsageOnError(),
		kong.Help(help.Printer(styles)),
	)

	err := ctx.Run(&cli.Globals)
	if err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
