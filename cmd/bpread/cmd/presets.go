package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
)

type presetEntry struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

type presetListing struct {
	Presets []presetEntry `json:"presets" yaml:"presets"`
	Order   []string      `json:"order" yaml:"order"`
}

// presetsCmd lists the preprocessing presets and the exploration order.
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List preprocessing presets and the exploration order",
	Long: `List every preprocessing preset and the configured exploration order.

Order steps read "resolution/preset/mode", e.g. 640/K/psm7.

Examples:
  bpread presets
  bpread presets --format yaml`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		order, err := explore.ParseOrder(cfg.Explore.Order)
		if err != nil {
			return fmt.Errorf("explore.order: %w", err)
		}
		format, _ := cmd.Flags().GetString("format")
		return writePresets(cmd.OutOrStdout(), format, buildPresetListing(order))
	},
}

func buildPresetListing(order []explore.Step) presetListing {
	presets := preprocess.Presets()
	listing := presetListing{
		Presets: make([]presetEntry, len(presets)),
		Order:   make([]string, len(order)),
	}
	for i, p := range presets {
		listing.Presets[i] = presetEntry{Name: p.String(), Description: p.Description()}
	}
	for i, s := range order {
		listing.Order[i] = s.String()
	}
	return listing
}

func writePresets(w io.Writer, format string, listing presetListing) error {
	switch format {
	case outputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	case outputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listing); err != nil {
			return fmt.Errorf("failed to encode presets: %w", err)
		}
		return enc.Close()
	case outputFormatText:
	default:
		return fmt.Errorf("invalid output format: %s (must be one of: %s, %s, %s)",
			format, outputFormatText, outputFormatJSON, outputFormatYAML)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PRESET\tDESCRIPTION")
	for _, p := range listing.Presets {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write presets: %w", err)
	}
	_, err := fmt.Fprintf(w, "\nExploration order (%d steps):\n", len(listing.Order))
	for i, s := range listing.Order {
		if err != nil {
			break
		}
		_, err = fmt.Fprintf(w, "  %2d. %s\n", i+1, s)
	}
	return err
}

func init() {
	rootCmd.AddCommand(presetsCmd)

	presetsCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, yaml)")
}
