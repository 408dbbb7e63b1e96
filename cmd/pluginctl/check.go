package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/server"
)

func newCheckCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>...",
		Short: "Parse manifests and run the security policies",
		Long: `Check parses each plugin header and runs the security policy for its
language. Every violation is reported, not only the first. The command
fails if any file is rejected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			rejected := 0
			for _, path := range args {
				if !checkFile(cmd, rt, path) {
					rejected++
				}
				fmt.Fprintln(out)
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d plugins rejected", rejected, len(args))
			}
			fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("%d plugins passed", len(args))))
			return nil
		},
	}
}

func checkFile(cmd *cobra.Command, rt *server.Runtime, path string) bool {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(filepath.Base(path)))

	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(out, "  "+failStyle.Render("✗ ")+err.Error())
		return false
	}

	d, result, err := rt.Registry.Vet(string(source), languageOf(path))
	if d != nil {
		field(out, "type", d.Type)
		field(out, "name", d.DisplayName)
		field(out, "language", string(d.Language))
		field(out, "match", d.MatchSource)
	}
	if result.Policy != "" {
		field(out, "policy", result.Policy)
	}
	if err == nil {
		fmt.Fprintln(out, "  "+okStyle.Render("✓ passed"))
		return true
	}

	var pe *plugin.Error
	if errors.As(err, &pe) && len(pe.Violations) > 0 {
		fmt.Fprintln(out, "  "+failStyle.Render(fmt.Sprintf("✗ %d violations", len(pe.Violations))))
		renderViolations(out, pe.Violations)
		return false
	}
	fmt.Fprintln(out, "  "+failStyle.Render("✗ ")+err.Error())
	return false
}

// languageOf guesses the language from the file extension; the header
// still has the final say
func languageOf(path string) plugin.Language {
	lang, _ := plugin.ParseLanguage(strings.TrimPrefix(filepath.Ext(path), "."))
	return lang
}

func (o *globalOptions) config() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFile(o.configPath)
	}
	return config.Load()
}

func (o *globalOptions) runtime() (*server.Runtime, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := zap.NewNop()
	if o.verbose {
		logger = logging.FromConfig("debug", true).Logger
	}
	return server.NewRuntime(cfg, logger, monitoring.NewMetrics()), nil
}
