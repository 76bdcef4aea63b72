package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"drti/internal/manifest"
)

var inspectFormat string

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "pretty", "output format (pretty|json)")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <module.ll|manifest" + manifest.Ext + ">",
	Short: "Show what a decoration run recorded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !strings.HasSuffix(path, manifest.Ext) {
			path = manifest.PathFor(path)
		}
		man, err := manifest.Read(path)
		if err != nil {
			return err
		}
		switch strings.ToLower(inspectFormat) {
		case "pretty":
			renderManifestPretty(cmd.OutOrStdout(), man)
			return nil
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(man)
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", inspectFormat)
		}
	},
}

var headingColor = color.New(color.Bold)

func renderManifestPretty(out io.Writer, m *manifest.Manifest) {
	fmt.Fprintf(out, "%s %s\n", headingColor.Sprint("module:"), m.Input)
	if m.Output != "" {
		fmt.Fprintf(out, "%s %s\n", headingColor.Sprint("output:"), m.Output)
	}
	fmt.Fprintf(out, "status: %s, triple %s\n", m.Status, m.Triple)
	fmt.Fprintf(out, "tool:   drti %s, support v%d, %s\n", m.Tool, m.SupportVersion, m.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(out, "snapshot: %s bytes, xxh3 %016x\n", humanCount(m.SnapshotSize), m.SnapshotDigest)
	fmt.Fprintf(out, "targets (%d): %s\n", len(m.Targets), strings.Join(m.Targets, " "))
	fmt.Fprintf(out, "address table: %d entries\n", len(m.Globals))

	fmt.Fprintf(out, "\n%s\n", headingColor.Sprintf("landing sites (%d)", len(m.Landings)))
	for _, l := range m.Landings {
		fmt.Fprintf(out, "  %-24s @%s, %d calls\n", l.Function, l.Global, l.Calls)
	}
	fmt.Fprintf(out, "\n%s\n", headingColor.Sprintf("callsites (%d)", len(m.Callsites)))
	for _, cs := range m.Callsites {
		callee := cs.Callee
		if callee == "" {
			callee = "<indirect>"
		}
		kind := "call"
		if cs.Invoke {
			kind = "invoke"
		}
		fmt.Fprintf(out, "  %s #%d %s %s @%s\n", cs.Function, cs.Ordinal, kind, callee, cs.Global)
	}
	if len(m.Timings.Phases) > 0 {
		fmt.Fprintf(out, "\n%s", m.Timings.Summary())
	}
}
