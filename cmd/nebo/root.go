// Package cli holds the command-line surface for the collaboration hub.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AppVersion is stamped at build time via -ldflags, matching the donor's
// own version-injection convention.
var AppVersion = "dev"

// SetupRootCmd builds the root "nebo" command: version flag plus the
// collab command group.
func SetupRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nebo",
		Short: "Multi-agent collaboration hub",
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(AppVersion)
		},
	})

	root.AddCommand(CollabCmd())

	return root
}
