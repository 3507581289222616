package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for imgref.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgref",
		Short: "Resolve image references in assistant answers",
		Long: `imgref scans assistant answer text for image references such as
"[이미지 1]" labels followed by URLs, markdown images, bare image URLs and
conventional image filenames. Each reference is repaired into an absolute,
fetchable URL and reported once, in the order it first appeared.

Resolved images can also be probed, checked against the object-storage
bucket, served through an image proxy and stored for later comparison.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .imgref in current or home directory)")

	cmd.AddCommand(NewResolveCmd())
	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewCleanCmd())
	cmd.AddCommand(NewProbeCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
