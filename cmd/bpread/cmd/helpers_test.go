package cmd

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MeKo-Tech/bpread/internal/config"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
)

// resetFlags restores every flag of c and its subcommands to its default so
// that state from one Execute does not leak into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			def := strings.Trim(f.DefValue, "[]")
			var vals []string
			if def != "" {
				vals = strings.Split(def, ",")
			}
			_ = sv.Replace(vals)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns stdout and
// stderr separately.
func executeCommand(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// useScriptedEngine makes every session created by the commands use a
// ScriptedEngine replaying results.
func useScriptedEngine(t *testing.T, results ...recognizer.Result) *recognizer.ScriptedEngine {
	t.Helper()
	eng := &recognizer.ScriptedEngine{Results: results}
	orig := newEngineFactory
	newEngineFactory = func(*config.Config) recognizer.Factory {
		return func() (recognizer.Engine, error) { return eng, nil }
	}
	t.Cleanup(func() { newEngineFactory = orig })
	return eng
}
