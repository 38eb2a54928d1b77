package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zoopixie",
	Short: "Drawing-to-video generation service",
	Long: `zoopixie turns a child's hand-drawn picture into a short AI-generated
animated video. Drawings are uploaded to object storage, a generation job
is submitted to the novita.ai image-to-video API, job state is recorded in
PostgreSQL, and completion is reconciled through provider webhooks with
client-side polling as the fallback path.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
