package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

type runOptions struct {
	url        string
	password   string
	capability string
	extra      map[string]string
	timeout    time.Duration
	json       bool
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run one capability of a plugin in an isolated context",
		Long: `Run vets the plugin, then invokes the requested capability against a
share URL. Outbound requests go through the same guarded bridge the
server uses. Captured logs are printed with the result.`,
		Example: `  pluginctl run plugins/example.js --url https://files.example.com/s/abc123
  pluginctl run plugins/example.py --url https://files.example.com/s/abc123 --capability listing --extra dir=/docs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlugin(cmd, opts, ro, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&ro.url, "url", "u", "", "Share URL to resolve")
	flags.StringVarP(&ro.password, "password", "p", "", "Share password")
	flags.StringVar(&ro.capability, "capability", string(plugin.CapabilityPrimary), "Capability to invoke")
	flags.StringToStringVar(&ro.extra, "extra", nil, "Extra input fields as key=value")
	flags.DurationVar(&ro.timeout, "timeout", 0, "Execution timeout (defaults to config)")
	flags.BoolVar(&ro.json, "json", false, "Print the raw execution result as JSON")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runPlugin(cmd *cobra.Command, opts *globalOptions, ro *runOptions, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	rt, err := opts.runtime()
	if err != nil {
		return err
	}
	defer rt.Close()

	d, _, err := rt.Registry.Vet(string(source), languageOf(path))
	if err != nil {
		return err
	}
	capability, ok := plugin.ParseCapability(ro.capability)
	if !ok {
		return fmt.Errorf("unknown capability %q", ro.capability)
	}
	in, ok := d.Input(ro.url, ro.password, extraValues(ro.extra))
	if !ok {
		return fmt.Errorf("url does not match the %s pattern %s", d.Type, d.MatchSource)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res := rt.Coordinator.Execute(ctx, plugin.ExecutionRequest{
		Descriptor: d,
		Capability: capability,
		Input:      in,
		Isolated:   true,
		Timeout:    ro.timeout,
	})

	out := cmd.OutOrStdout()
	if ro.json {
		data, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		renderResult(cmd, res)
	}
	if !res.Success {
		return fmt.Errorf("execution %s ended %s", res.ID, res.State)
	}
	return nil
}

func renderResult(cmd *cobra.Command, res *plugin.ExecutionResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(res.Plugin+" · "+string(res.Capability)))
	field(out, "execution", res.ID)
	state := okStyle.Render(string(res.State))
	if !res.Success {
		state = failStyle.Render(string(res.State))
	}
	field(out, "state", state)
	field(out, "elapsed", strconv.FormatInt(res.ElapsedMillis, 10)+"ms")

	if res.Error != nil {
		field(out, "error", string(res.Error.Kind)+": "+res.Error.Message)
		renderViolations(out, res.Error.Violations)
	}
	switch res.Value.Kind {
	case plugin.ValueString:
		field(out, "value", res.Value.Str)
	case plugin.ValueFileList:
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Files (%d)", len(res.Value.Files))))
		for _, f := range res.Value.Files {
			fmt.Fprintln(out, "  "+f.FileName+dimStyle.Render(fmt.Sprintf("  %s %d bytes", f.FileID, f.Size)))
		}
	}
	renderLogs(out, res.Logs)
}

// extraValues turns numeric and boolean flag values into their JSON types
func extraValues(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		switch {
		case v == "true" || v == "false":
			out[k] = v == "true"
		default:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = n
			} else {
				out[k] = v
			}
		}
	}
	return out
}
