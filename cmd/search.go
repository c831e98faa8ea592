package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"
)

// runSearch embeds a query and prints the top-k matches.
//
// The index is in-memory and empty at process start, so a useful search
// session pairs this with ingest in the same invocation pipeline or runs
// against `gqx serve` via POST /rag/search. The subcommand exists for
// smoke-testing an embedding backend configuration.
func runSearch(args []string) error {
	flags := flag.NewFlagSet("search", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	k := flags.Int("k", 0, "number of results (0 = configured default)")
	indexFirst := flags.String("ingest", "", "comma-separated files to index before searching")
	if err := flags.Parse(args); err != nil {
		return err
	}
	query := strings.Join(flags.Args(), " ")
	if query == "" {
		return fmt.Errorf("search: a query is required")
	}

	ctx := context.Background()
	eng, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}

	if *indexFirst != "" {
		if err := ingestFiles(ctx, eng, strings.Split(*indexFirst, ","), false); err != nil {
			return err
		}
	}

	if *k <= 0 {
		*k = eng.retriever.DefaultK()
	}
	results, err := eng.retriever.Retrieve(ctx, query, *k, nil)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, res := range results {
		fmt.Printf("%d. [%s#%d] score=%.4f\n   %s\n",
			i+1, res.Chunk.DocumentID, res.Chunk.Seq, res.Score, res.Chunk.Text)
	}
	return nil
}
