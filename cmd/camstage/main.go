// Camstage stages factory-fresh Axis cameras on a bench network.
//
// It answers the cameras' DHCP requests from a private pool, then gives
// every camera its administrator accounts, baseline settings and final
// static address, verifying each one afterwards.
//
// Usage:
//
//	camstage [command] [flags]
//
// See 'camstage --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/camstage/internal/config"
	"github.com/muurk/camstage/internal/logging"
	"github.com/muurk/camstage/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "camstage",
	Short: "Axis camera bench provisioning",
	Long: `Provision batches of factory-default Axis cameras.

camstage runs a DHCP responder on the bench network so new cameras get
temporary addresses, then walks every camera through the same sequence:
initial administrator, optional secondary administrator and integration
user, baseline settings and a final static address, followed by a
reachability check. Results are written as a CSV inventory.

Start with 'camstage interfaces' to find the bench interface and
'camstage sample-csv' for an assignment template.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default is the per-user config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset unless "+logging.LogLevelEnvVar+" is set")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("camstage %s (commit: %s, %s, %s)\n", info.Version, info.Commit, info.GoVersion, info.Platform)
	},
}
