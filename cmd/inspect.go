package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/annotator/internal/metadata"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the annotation embedded in an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, err := metadata.ReadDescription(args[0])
			if err != nil {
				return fmt.Errorf("failed to read embedded metadata: %w", err)
			}
			if description == "" {
				return fmt.Errorf("no embedded annotation found in %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), description)
			return nil
		},
	}
}
