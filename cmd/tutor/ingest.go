package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var ingestExtensions = map[string]bool{".txt": true, ".md": true, ".markdown": true}

type documentAdder interface {
	AddDocument(ctx context.Context, source, text string) (int, error)
	Count(ctx context.Context) (int, error)
}

func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ingest FILE...",
		Short:   "Add text or markdown course documents to the collection",
		Example: "tutor ingest syllabus.md notes/*.txt",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(0)
			if err != nil {
				return err
			}
			client, err := newOpenAIClient(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(cmd, cfg, client)
			if err != nil {
				return err
			}
			defer store.Close()
			return ingestFiles(cmd.Context(), store, args, cmd.OutOrStdout())
		},
	}
}

// ingestFiles adds each file under its base name. Every file is attempted;
// the first failure is returned after the rest have been processed.
func ingestFiles(ctx context.Context, store documentAdder, paths []string, out io.Writer) error {
	var firstErr error
	fail := func(err error) {
		fmt.Fprintf(out, "skipped: %v\n", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, path := range paths {
		if !ingestExtensions[strings.ToLower(filepath.Ext(path))] {
			fail(fmt.Errorf("%s: unsupported file type (want .txt or .md)", path))
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			fail(fmt.Errorf("read %s: %w", path, err))
			continue
		}
		n, err := store.AddDocument(ctx, filepath.Base(path), string(raw))
		if err != nil {
			fail(err)
			continue
		}
		fmt.Fprintf(out, "added %s (%d chunks)\n", filepath.Base(path), n)
	}

	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "collection has %d chunk(s)\n", total)
	return firstErr
}
