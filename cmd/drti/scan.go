package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"drti/internal/sentinel"
)

var scanFormat string

func init() {
	scanCmd.Flags().StringVar(&scanFormat, "format", "pretty", "output format (pretty|json)")
}

var scanCmd = &cobra.Command{
	Use:   "scan <elf-binary>",
	Short: "List the cooperating call sites a compiled binary carries",
	Long: `scan looks for the sentinel word the drti backend places before each
cooperating call and lists the calls whose return address lands on the
protocol alignment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		proto, err := protocolFor(cfg)
		if err != nil {
			return err
		}
		sites, err := sentinel.ScanELF(args[0], proto)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch strings.ToLower(scanFormat) {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sites)
		case "pretty":
			for _, s := range sites {
				fmt.Fprintln(out, s.String())
			}
			quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
			if !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s cooperating call sites\n", color.New(color.Bold).Sprint(len(sites)))
			}
			return nil
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", scanFormat)
		}
	},
}
