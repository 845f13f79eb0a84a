package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hyperevo/pkg/hyperevo"
)

var (
	runAlgorithm   string
	runProblem     string
	runPopulation  int
	runGenerations int
	runDimension   int
	runSeed        uint64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization",
	Long:  `Runs one optimization and persists its fitness history, per-generation stats and artifacts.`,
	RunE:  runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&runAlgorithm, "algorithm", "random-search", "Algorithm: random-search or open-es")
	runCmd.Flags().StringVar(&runProblem, "problem", "sphere", "Problem: sphere, rastrigin or cart-pole-lite")
	runCmd.Flags().IntVar(&runPopulation, "pop", 50, "Population size")
	runCmd.Flags().IntVar(&runGenerations, "generations", 100, "Number of generations")
	runCmd.Flags().IntVar(&runDimension, "dim", 3, "Search space dimension")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 42, "Random seed")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
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

	slog.Info("starting run",
		"algorithm", runAlgorithm,
		"problem", runProblem,
		"pop", runPopulation,
		"generations", runGenerations,
		"seed", runSeed)

	start := time.Now()
	summary, err := client.Run(ctx, hyperevo.RunRequest{
		Algorithm:   runAlgorithm,
		Problem:     runProblem,
		Population:  runPopulation,
		Generations: runGenerations,
		Dimension:   runDimension,
		Seed:        runSeed,
	})
	if err != nil {
		return err
	}

	slog.Info("run finished",
		"run_id", summary.RunID,
		"best_fitness", summary.FinalBestFitness,
		"elapsed", time.Since(start).String())
	fmt.Printf("run %s: best fitness %.6g, artifacts at %s\n", summary.RunID, summary.FinalBestFitness, summary.ArtifactsDir)
	return nil
}
