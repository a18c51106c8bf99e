package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opatlas/opatlas/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("opatlas %s\n", version.Full())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
