package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "intaked <command>",
	Short: "Telemetry intake service",
	Long: `intaked receives concatenated JSON telemetry over HTTP and stores
each value as one event in Postgres, SQLite, or compressed flat files.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the intaked version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("intaked", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the TOML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigPath() string {
	if p := os.Getenv("INTAKE_CONFIG"); p != "" {
		return p
	}
	return "intake.toml"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
