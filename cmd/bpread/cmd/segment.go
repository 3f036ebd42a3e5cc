package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/raster"
	"github.com/MeKo-Tech/bpread/internal/segment"
	"github.com/MeKo-Tech/bpread/internal/source"
)

type segmentOutcome struct {
	Source  string           `json:"source"`
	Text    string           `json:"text,omitempty"`
	Reading *segment.Reading `json:"reading,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// segmentCmd decodes seven-segment displays without the text recognizer.
var segmentCmd = &cobra.Command{
	Use:   "segment [image...]",
	Short: "Decode seven-segment displays directly",
	Long: `Decode a cropped seven-segment display with the built-in segment decoder.

The image should contain only the display: three horizontal bands holding
systolic, diastolic and pulse. No text recognition engine is needed.

Examples:
  bpread segment display.png
  bpread segment display.png --invert --digits 3,3,3
  bpread segment photo.jpg --roi 120,80,400,300 --format json`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runSegment,
}

func runSegment(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input images provided")
	}

	cfg := GetConfig()
	layout, err := cfg.SegmentLayout()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("digits") {
		digits, _ := cmd.Flags().GetIntSlice("digits")
		cfg.Segment.Digits = digits
		if layout, err = cfg.SegmentLayout(); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("invert") {
		layout.Invert, _ = cmd.Flags().GetBool("invert")
	}
	if cmd.Flags().Changed("flexible") {
		layout.Flexible, _ = cmd.Flags().GetBool("flexible")
	}

	var roi *preprocess.ROI
	if s, _ := cmd.Flags().GetString("roi"); s != "" {
		parsed, err := preprocess.ParseROI(s)
		if err != nil {
			return fmt.Errorf("invalid --roi %q: %w", s, err)
		}
		roi = &parsed
	}

	format, _ := cmd.Flags().GetString("format")
	if format != outputFormatText && format != outputFormatJSON {
		return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputFormatText, outputFormatJSON)
	}

	resolver, err := cfg.NewResolver()
	if err != nil {
		return fmt.Errorf("failed to configure image sources: %w", err)
	}
	ctx := commandContext(cmd)

	outcomes := make([]segmentOutcome, 0, len(args))
	failed := 0
	for _, arg := range args {
		out := segmentOutcome{Source: arg}
		reading, err := func() (segment.Reading, error) {
			src, err := argSource(cmd.InOrStdin(), arg)
			if err != nil {
				return segment.Reading{}, err
			}
			img, err := resolver.Resolve(ctx, src)
			if err != nil {
				return segment.Reading{}, err
			}
			if roi == nil {
				return segment.DecodeDisplay(img, layout), nil
			}
			cropped, err := raster.Crop(img, roi.Rect())
			if err != nil {
				return segment.Reading{}, err
			}
			return segment.DecodeDisplay(cropped, layout), nil
		}()
		if err != nil {
			failed++
			out.Error = err.Error()
			slog.Error("Segment decoding failed", "source", arg, "error", err)
		} else {
			out.Text = reading.Text()
			out.Reading = &reading
		}
		outcomes = append(outcomes, out)
	}

	if err := writeSegmentOutcomes(cmd.OutOrStdout(), format, outcomes); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) could not be decoded", failed, len(args))
	}
	return nil
}

func writeSegmentOutcomes(w io.Writer, format string, outcomes []segmentOutcome) error {
	if format == outputFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}
	for _, o := range outcomes {
		var line string
		switch {
		case o.Error != "":
			line = fmt.Sprintf("%s: error: %s", o.Source, o.Error)
		case o.Reading.Complete():
			line = fmt.Sprintf("%s: %s (confidence %.1f)", o.Source, o.Text, o.Reading.Confidence)
		default:
			line = fmt.Sprintf("%s: %s (incomplete, confidence %.1f)", o.Source, o.Text, o.Reading.Confidence)
		}
		if o.Reading != nil && o.Reading.Inverted {
			line += " [inverted]"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(segmentCmd)

	segmentCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	segmentCmd.Flags().Bool("invert", false, "display shows light digits on a dark background")
	segmentCmd.Flags().Bool("flexible", false, "also try the opposite polarity and keep the better decoding")
	digits := segment.DefaultLayout().Counts
	segmentCmd.Flags().IntSlice("digits", digits[:], "digit cells per band (systolic,diastolic,pulse)")
	segmentCmd.Flags().String("roi", "", "crop to x,y,w,h before decoding")
}
