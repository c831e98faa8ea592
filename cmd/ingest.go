package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gqx-labs/gqx/internal/rag"
)

// runIngest chunks, embeds and indexes local text files.
func runIngest(args []string) error {
	flags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	strict := flags.Bool("strict", false, "abort a document on any chunk failure")
	if err := flags.Parse(args); err != nil {
		return err
	}
	files := flags.Args()
	if len(files) == 0 {
		return fmt.Errorf("ingest: at least one file is required")
	}

	ctx := context.Background()
	eng, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}

	return ingestFiles(ctx, eng, files, *strict)
}

func ingestFiles(ctx context.Context, eng *engine, paths []string, strict bool) error {
	for _, path := range paths {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		doc := rag.Document{
			Filename:   filepath.Base(path),
			UploadedAt: time.Now().UTC(),
			Text:       string(text),
		}
		report, err := eng.ingestor.Ingest(ctx, doc, strict)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		fmt.Printf("%s: document %s, %d chunks indexed, %d failures\n",
			path, report.DocumentID, report.ChunksIndexed, len(report.Failures))
		for _, f := range report.Failures {
			fmt.Printf("  chunk %d: %s\n", f.Seq, f.Error)
		}
	}
	return nil
}
