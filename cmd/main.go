package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contract-engine",
	Short: "Contract change order, payment certificate and reconciliation service",
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, tenantCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("contract-engine: %v", err)
	}
}
