package cmd

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/bpread/internal/debuglog"
	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/source"
)

const (
	outputFormatJSON = "json"
	outputFormatCSV  = "csv"
	outputFormatText = "text"
	outputFormatYAML = "yaml"
)

// stdinSource is the argument that reads the image from standard input.
const stdinSource = "-"

// readOutcome is one source's result as printed by the read command.
type readOutcome struct {
	Source string          `json:"source"`
	Result *explore.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

var readCSVHeader = []string{
	"source", "systolic", "diastolic", "pulse", "confidence", "level",
	"needs_review", "method", "preset", "attempts", "elapsed_ms", "error_code", "error",
}

// readCmd represents the read command.
var readCmd = &cobra.Command{
	Use:   "read [image...]",
	Short: "Read blood-pressure values from display photos",
	Long: `Read systolic, diastolic and pulse values from one or more display photos.

Arguments may be local files, http(s) URLs, azblob://container/blob references
or "-" for standard input.

Examples:
  bpread read photo.jpg
  bpread read a.jpg b.jpg --format csv --output readings.csv
  bpread read photo.jpg --roi 120,80,400,300 --roi 100,60,440,340
  bpread read photo.jpg --debug --debug-out ./debug
  cat photo.jpg | bpread read -`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input images provided")
	}

	cfg := GetConfig()
	format := cfg.Output.Format
	if !slices.Contains([]string{outputFormatText, outputFormatJSON, outputFormatCSV}, format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s, %s, %s)",
			format, outputFormatText, outputFormatJSON, outputFormatCSV)
	}

	roiFlags, _ := cmd.Flags().GetStringArray("roi")
	rois := make([]preprocess.ROI, 0, len(roiFlags))
	for _, s := range roiFlags {
		roi, err := preprocess.ParseROI(s)
		if err != nil {
			return fmt.Errorf("invalid --roi %q: %w", s, err)
		}
		rois = append(rois, roi)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	debugOut := cfg.Output.DebugOut
	if debugOut != "" {
		debug = true
		if err := os.MkdirAll(debugOut, 0o750); err != nil {
			return fmt.Errorf("failed to create debug directory: %w", err)
		}
	}

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

	outcomes := make([]readOutcome, 0, len(args))
	failed := 0
	for _, arg := range args {
		src, err := argSource(cmd.InOrStdin(), arg)
		if err != nil {
			return err
		}
		res, err := sess.Recognize(ctx, src, explore.Options{ROIs: rois, Debug: debug})
		out := readOutcome{Source: arg, Result: res}
		if err != nil {
			failed++
			out.Error = err.Error()
			slog.Error("Recognition failed", "source", arg, "error", err)
		} else if debugOut != "" {
			if err := writeDebugArtifacts(debugOut, arg, res); err != nil {
				return err
			}
		}
		outcomes = append(outcomes, out)
	}

	w, closeOut, err := openOutput(cfg.Output.File, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := writeReadOutcomes(w, format, outcomes); err != nil {
		_ = closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) could not be processed", failed, len(args))
	}
	return nil
}

func argSource(stdin io.Reader, arg string) (source.Source, error) {
	if arg != stdinSource {
		return source.FromRef(arg), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return source.Source{}, fmt.Errorf("failed to read standard input: %w", err)
	}
	return source.FromBytes(data), nil
}

func writeReadOutcomes(w io.Writer, format string, outcomes []readOutcome) error {
	switch format {
	case outputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	case outputFormatCSV:
		return writeReadCSV(w, outcomes)
	}
	for _, o := range outcomes {
		if _, err := fmt.Fprintln(w, formatReadText(o)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func formatReadText(o readOutcome) string {
	if o.Error != "" {
		return fmt.Sprintf("%s: error: %s", o.Source, o.Error)
	}
	res := o.Result
	if res.Vitals == nil {
		return fmt.Sprintf("%s: no reading (%s, %d attempts, %.0f ms)",
			o.Source, res.ErrorCode, res.AttemptsRun, res.TotalElapsedMs)
	}

	var sb strings.Builder
	v := res.Vitals
	fmt.Fprintf(&sb, "%s: %s (confidence %.1f, %s", o.Source, v.Summary(), v.Confidence, v.Level)
	if v.NeedsReview {
		sb.WriteString(", needs review")
	}
	sb.WriteString(")")
	if a, ok := res.Selected(); ok {
		fmt.Fprintf(&sb, " [%s %s/%d/%s, score %.1f]", a.Method, a.Preset, a.Resolution, a.Mode, a.Score.Total)
	}
	fmt.Fprintf(&sb, " %d attempts, %.0f ms", res.AttemptsRun, res.TotalElapsedMs)
	if res.ErrorCode != "" {
		fmt.Fprintf(&sb, " (%s)", res.ErrorCode)
	}
	for _, w := range append(slices.Clone(v.Warnings), res.Warnings...) {
		fmt.Fprintf(&sb, "\n  warning: %s", w)
	}
	return sb.String()
}

func writeReadCSV(w io.Writer, outcomes []readOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(readCSVHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, o := range outcomes {
		if err := cw.Write(readCSVRow(o)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func readCSVRow(o readOutcome) []string {
	row := make([]string, len(readCSVHeader))
	row[0] = o.Source
	row[12] = o.Error
	res := o.Result
	if res == nil {
		return row
	}
	row[9] = strconv.Itoa(res.AttemptsRun)
	row[10] = strconv.FormatFloat(res.TotalElapsedMs, 'f', 1, 64)
	row[11] = res.ErrorCode
	if a, ok := res.Selected(); ok {
		row[7] = a.Method
		row[8] = a.Preset
	}
	if v := res.Vitals; v != nil {
		row[1] = optInt(v.Systolic)
		row[2] = optInt(v.Diastolic)
		row[3] = optInt(v.Pulse)
		row[4] = strconv.FormatFloat(v.Confidence, 'f', 1, 64)
		row[5] = string(v.Level)
		row[6] = strconv.FormatBool(v.NeedsReview)
	}
	return row
}

func optInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

// writeDebugArtifacts stores the attempt log and retained rasters of one
// run under dir, prefixed with the source's base name.
func writeDebugArtifacts(dir, arg string, res *explore.Result) error {
	base := strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
	if arg == stdinSource || base == "" || base == "." {
		base = "stdin"
	}
	base += "_" + res.RunID[:min(8, len(res.RunID))]

	records := res.Records()
	if res.Debug != nil && len(res.Debug.Records) > 0 {
		records = res.Debug.Records
	}
	f, err := os.Create(filepath.Join(dir, base+"_attempts.csv")) //nolint:gosec // under the debug directory
	if err != nil {
		return fmt.Errorf("failed to create debug log: %w", err)
	}
	if err := debuglog.WriteCSV(f, records); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write debug log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close debug log: %w", err)
	}

	if res.Debug == nil {
		return nil
	}
	for i, r := range res.Debug.Rasters {
		name := fmt.Sprintf("%s_%02d_%s.png", base, i, sanitizeName(r.Name))
		if err := os.WriteFile(filepath.Join(dir, name), r.PNG, 0o600); err != nil {
			return fmt.Errorf("failed to write debug raster: %w", err)
		}
	}
	slog.Debug("Wrote debug artifacts", "dir", dir, "records", len(records), "rasters", len(res.Debug.Rasters))
	return nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func addReadFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringArray("roi", nil, "region of interest x,y,w,h (repeatable, tried in order)")
	cmd.Flags().Bool("debug", false, "record every attempt and keep intermediate rasters")
	cmd.Flags().String("debug-out", "", "directory for debug attempt logs and rasters (implies --debug)")
	cmd.Flags().Int("max-attempts", 0, "override the exploration attempt budget")
	cmd.Flags().Float64("early-accept", 0, "override the early-accept score")
	cmd.Flags().Bool("warmup", false, "create the recognizer before the first image")
}

// bindReadFlags binds the read flags to viper configuration keys.
func bindReadFlags(cmd *cobra.Command) {
	flagBindings := []struct {
		key  string
		flag string
	}{
		{"output.format", "format"},
		{"output.file", "output"},
		{"output.debug_out", "debug-out"},
		{"explore.max_attempts", "max-attempts"},
		{"explore.early_accept", "early-accept"},
		{"recognizer.warmup", "warmup"},
	}

	for _, binding := range flagBindings {
		if err := viper.BindPFlag(binding.key, cmd.Flags().Lookup(binding.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", binding.flag, err))
		}
	}
}

func init() {
	rootCmd.AddCommand(readCmd)

	addReadFlags(readCmd)
	bindReadFlags(readCmd)
}
