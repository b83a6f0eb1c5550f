// Command deploy-core runs the Obtura deployment core: the RabbitMQ
// consumer that drives blue/green, rolling, and canary deployments, and
// the HTTP surface that streams their progress.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "deploy-core",
	Short: "Obtura's multi-tenant deployment orchestration core",
	Long: `deploy-core drives a deployment through its phase state machine —
preparing, deploying the new replica set, health-checking it, switching
traffic, draining the old replica set, and monitoring — using whichever
of blue/green, rolling, or canary the job asked for.`,
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
