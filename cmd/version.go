package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chalmers-revere/cloudrec/internal/version"
)

// CreateVersionCmd creates the version command.
func CreateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Print(version.Get().Format())
		},
	}
}
