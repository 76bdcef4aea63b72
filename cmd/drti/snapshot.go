package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/llir/llvm/asm"
	"github.com/spf13/cobra"

	"drti/internal/decorate"
	"drti/internal/manifest"
)

var (
	snapshotOutput string
	snapshotCheck  bool
)

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "", "write the snapshot here instead of stdout")
	snapshotCmd.Flags().BoolVar(&snapshotCheck, "check", true, "verify the snapshot parses and matches the manifest digest")
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <decorated.ll>",
	Short: "Extract the pre-decoration module embedded in a decorated module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := asm.ParseFile(args[0])
		if err != nil {
			return err
		}
		snap, err := decorate.Snapshot(m)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if snapshotCheck {
			if err := checkSnapshot(args[0], snap); err != nil {
				return err
			}
		}
		if snapshotOutput == "" {
			_, err := cmd.OutOrStdout().Write(snap)
			return err
		}
		return os.WriteFile(snapshotOutput, snap, 0o644)
	},
}

// checkSnapshot compares snap with the manifest next to path, when there
// is one, and makes sure it parses.
func checkSnapshot(path string, snap []byte) error {
	man, err := manifest.Read(manifest.PathFor(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		if err := man.VerifySnapshot(snap); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if _, err := asm.ParseBytes(path+"#snapshot", snap); err != nil {
		return fmt.Errorf("%s: embedded snapshot does not parse: %w", path, err)
	}
	return nil
}
