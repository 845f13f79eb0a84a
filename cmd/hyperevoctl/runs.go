package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hyperevo/pkg/hyperevo"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted runs",
	RunE:  listRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

func listRuns(cmd *cobra.Command, args []string) error {
	client, err := hyperevo.New(hyperevo.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.Runs(context.Background(), runsLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tALGORITHM\tPROBLEM\tPOP\tGENS\tSEED\tBEST")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.6g\n",
			item.RunID, item.CreatedAtUTC, item.Algorithm, item.Problem,
			item.Population, item.Generations, item.Seed, item.BestFitness)
	}
	return w.Flush()
}
