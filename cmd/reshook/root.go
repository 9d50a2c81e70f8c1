package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/k2io/reshook/internal/config"
)

var (
	// Global flags
	configPath string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "reshook",
	Short: "Check resource hook signatures and configuration offline",
	Long: `reshook inspects client binaries and configuration for the resource
hook engine without attaching to a running process. It resolves the engine's
byte signatures against a binary's code section and prints the effective
configuration.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to "+config.FileName+" (default: built-in configuration)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig returns the configuration named by --config, or the defaults.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		conf := config.Default()
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		conf.WorkingDirectory = wd
		return conf, nil
	}
	return config.Load(configPath)
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}
