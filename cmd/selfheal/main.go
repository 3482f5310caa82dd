package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags
var version = "dev"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:     "selfheal",
		Version: version,
		Short:   "Self-healing debug engine for CI/CD pipeline failures",
		Long: `selfheal watches failed pipeline logs, classifies the errors behind
them, proposes patches from deterministic fix templates or a model
adapter, and applies approved patches with snapshot-backed rollback.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
