package main

import (
	"fmt"
	"os"

	_ "time/tzdata"

	"github.com/md-rashed-zaman/vetbook/libs/config"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string
	rootCmd := &cobra.Command{
		Use:   "booking-service",
		Short: "Vet appointment scheduling and booking engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}
			return config.Load(configFile)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a yaml/json/toml config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(providerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
