package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/imgref/internal/cleaner"
	"github.com/nao1215/imgref/internal/source"
)

// NewCleanCmd creates the clean command.
func NewCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [file]",
		Short: "Print answer text with image references removed",
		Long: `Clean prints the answer text without its image references, ready to be
displayed next to a separate image gallery. Label lines, storage URLs,
markdown images, page and relevance lines and "관련 이미지" headings are
removed; leftover blank lines are collapsed.

Examples:
  imgref clean answer.txt
  cat answer.txt | imgref clean`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCleanCmd,
	}
}

func runCleanCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Resolver.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	path := source.StdinName
	if len(args) == 1 {
		path = args[0]
	}
	doc, err := source.Load(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), cleaner.New(cfg.Resolver).Clean(doc.Text))
	return err
}
