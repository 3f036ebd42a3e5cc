package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/bpread/internal/eval"
)

// evalCmd measures accuracy over a labelled manifest.
var evalCmd = &cobra.Command{
	Use:   "eval <manifest.yaml>",
	Short: "Measure reading accuracy over a labelled image set",
	Long: `Run the reader over every sample of a YAML manifest and report per-field
accuracy, pair accuracy and the word error rate of the raw text.

Manifest format:
  samples:
    - name: morning
      file: images/morning.jpg
      systolic: 120
      diastolic: 80
      pulse: 72
      roi: {x: 100, y: 60, width: 400, height: 300}

Examples:
  bpread eval samples.yaml
  bpread eval samples.yaml --format csv --output report.csv`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	var write func(*eval.Report, io.Writer) error
	switch format {
	case outputFormatText:
		write = (*eval.Report).WriteText
	case outputFormatJSON:
		write = (*eval.Report).WriteJSON
	case outputFormatCSV:
		write = (*eval.Report).WriteCSV
	default:
		return fmt.Errorf("invalid output format: %s (must be one of: %s, %s, %s)",
			format, outputFormatText, outputFormatJSON, outputFormatCSV)
	}

	manifest, err := eval.LoadManifest(args[0])
	if err != nil {
		return err
	}

	cfg := GetConfig()
	ctx := commandContext(cmd)
	sess, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Warn("Failed to close recognizer", "error", err)
		}
	}()

	opts := []eval.Option{eval.WithLogger(slog.Default())}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		opts = append(opts, eval.WithProgress(eval.NewLogProgressCallback(slog.Default(), slog.LevelDebug)))
	} else {
		opts = append(opts, eval.WithProgress(eval.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Evaluating: ")))
	}
	report, err := eval.New(sess, opts...).Run(ctx, manifest)
	if err != nil {
		return fmt.Errorf("evaluation interrupted: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	w, closeOut, err := openOutput(output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := write(report, w); err != nil {
		_ = closeOut()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return closeOut()
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringP("format", "f", outputFormatText, "report format (text, json, csv)")
	evalCmd.Flags().StringP("output", "o", "", "report file (default: stdout)")
	evalCmd.Flags().BoolP("quiet", "q", false, "log per-sample progress at debug level instead of drawing a bar")
}
