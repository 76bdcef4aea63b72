package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"drti/internal/config"
)

// Environment variables read when the matching flag is not given.
const (
	envTargetNames = "DRTI_TARGET_NAMES"
	envTargetsFile = "DRTI_TARGETS_FILE"
)

// loadConfig loads --config, or drti.toml found upwards from the working
// directory. A missing file is not an error and yields nil.
func loadConfig(cmd *cobra.Command) (*config.File, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		found, ok, err := config.Find(".")
		if err != nil || !ok {
			return nil, err
		}
		path = found
	}
	return config.Load(path)
}

// resolveTargets unions the inline names (flag, else environment) with
// drti.toml's names, and reads the targets file named by the flag, the
// environment or drti.toml, in that order of precedence.
func resolveTargets(inline, file string, cfg *config.File) (config.Targets, error) {
	if inline == "" {
		inline = os.Getenv(envTargetNames)
	}
	if file == "" {
		file = os.Getenv(envTargetsFile)
	}
	if file == "" {
		file = cfg.TargetsFile()
	}
	names := strings.TrimSpace(inline + " " + cfg.InlineTargets())
	return config.Resolve(names, file)
}

// protocolFor returns the protocol from drti.toml or the default.
func protocolFor(cfg *config.File) (config.Protocol, error) {
	return cfg.ProtocolOrDefault()
}
