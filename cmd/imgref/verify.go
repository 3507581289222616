package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [file...]",
		Short: "Check that resolved storage images exist in the bucket",
		Long: `Verify resolves the given answers and checks every object-storage image
against the bucket listing. The listing is cached for storage.catalogTTL.
Images on other hosts are not checked.

Credentials are read from IMGREF_S3_ACCESS_KEY_ID and
IMGREF_S3_SECRET_ACCESS_KEY; the endpoint, bucket and region come from the
storage section of the config file.

The command fails when any image is missing.

Examples:
  imgref verify answer.txt
  imgref verify --markdown -o missing.md answers/*.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: runVerifyCmd,
	}
	addResolveFlags(cmd)
	return cmd
}

func runVerifyCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyResolveFlags(cmd, cfg, args); err != nil {
		return err
	}
	cfg.Verify = true
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	ctx, cancel := signalContext(logger)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := runResolve(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return missingError(results)
}
