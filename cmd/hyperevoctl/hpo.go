package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hyperevo/pkg/hyperevo"
)

var (
	hpoAlgorithm    string
	hpoProblem      string
	hpoPopulation   int
	hpoDimension    int
	hpoIterations   int
	hpoInstances    int
	hpoTrials       int
	hpoWorkers      int
	hpoPerturbScale float64
	hpoSeed         uint64
)

var hpoCmd = &cobra.Command{
	Use:   "hpo",
	Short: "Search over a workflow's hyperparameters",
	Long: `Wraps the chosen optimization workflow as a black-box problem over its
own tunable parameters and searches that space, evaluating several
hyperparameter sets per trial as one batched rollout.`,
	RunE: runHPO,
}

func init() {
	hpoCmd.Flags().StringVar(&hpoAlgorithm, "algorithm", "random-search", "Inner algorithm: random-search or open-es")
	hpoCmd.Flags().StringVar(&hpoProblem, "problem", "sphere", "Inner problem: sphere, rastrigin or cart-pole-lite")
	hpoCmd.Flags().IntVar(&hpoPopulation, "pop", 20, "Inner population size")
	hpoCmd.Flags().IntVar(&hpoDimension, "dim", 3, "Inner search space dimension")
	hpoCmd.Flags().IntVar(&hpoIterations, "iterations", 9, "Inner workflow iterations per evaluation")
	hpoCmd.Flags().IntVar(&hpoInstances, "instances", 7, "Hyperparameter sets evaluated per trial")
	hpoCmd.Flags().IntVar(&hpoTrials, "trials", 8, "Number of search trials")
	hpoCmd.Flags().IntVar(&hpoWorkers, "workers", 1, "Concurrent instances per batched step")
	hpoCmd.Flags().Float64Var(&hpoPerturbScale, "perturb", 0.25, "Hyperparameter perturbation scale")
	hpoCmd.Flags().Uint64Var(&hpoSeed, "seed", 42, "Random seed")

	rootCmd.AddCommand(hpoCmd)
}

func runHPO(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := hyperevo.New(hyperevo.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	slog.Info("starting hyperparameter search",
		"algorithm", hpoAlgorithm,
		"problem", hpoProblem,
		"iterations", hpoIterations,
		"instances", hpoInstances,
		"trials", hpoTrials,
		"workers", hpoWorkers)

	start := time.Now()
	summary, err := client.RunHPO(ctx, hyperevo.HPORequest{
		Algorithm:    hpoAlgorithm,
		Problem:      hpoProblem,
		Population:   hpoPopulation,
		Dimension:    hpoDimension,
		Iterations:   hpoIterations,
		NumInstances: hpoInstances,
		Trials:       hpoTrials,
		Workers:      hpoWorkers,
		PerturbScale: hpoPerturbScale,
		Seed:         hpoSeed,
	})
	if err != nil {
		return err
	}

	slog.Info("search finished",
		"run_id", summary.RunID,
		"best_fitness", summary.BestFitness,
		"elapsed", time.Since(start).String())

	fmt.Printf("search %s: best fitness %.6g over %d trials\n", summary.RunID, summary.BestFitness, summary.Trials)
	keys := make([]string, 0, len(summary.BestParameters))
	for k := range summary.BestParameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %v\n", k, summary.BestParameters[k])
	}
	fmt.Printf("artifacts at %s\n", summary.ArtifactsDir)
	return nil
}
