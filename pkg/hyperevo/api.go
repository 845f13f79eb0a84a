// Package hyperevo is the embedding API: run evolutionary optimizations,
// run hyperparameter searches over them, and query persisted results.
package hyperevo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"hyperevo/internal/algo"
	"hyperevo/internal/env"
	"hyperevo/internal/hpo"
	"hyperevo/internal/model"
	"hyperevo/internal/problem"
	"hyperevo/internal/state"
	"hyperevo/internal/stats"
	"hyperevo/internal/storage"
	"hyperevo/internal/tensor"
	"hyperevo/internal/workflow"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultDBPath       = "hyperevo.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
}

type Client struct {
	store        storage.Store
	artifactsDir string
	initialized  bool
}

type RunRequest struct {
	Algorithm   string
	Problem     string
	Population  int
	Generations int
	Dimension   int
	Seed        uint64
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	BestByGeneration []float64
	FinalBestFitness float64
}

type HPORequest struct {
	Algorithm    string
	Problem      string
	Population   int
	Dimension    int
	Iterations   int
	NumInstances int
	Trials       int
	Workers      int
	PerturbScale float64
	Seed         uint64
}

type HPOSummary struct {
	RunID          string
	ArtifactsDir   string
	Trials         int
	BestByTrial    []float64
	BestFitness    float64
	BestParameters map[string][]float64
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Algorithm    string
	Problem      string
	Population   int
	Generations  int
	Seed         uint64
	BestFitness  float64
}

// fitnessReporter is the accessor every shipped algorithm exposes for the
// fitness of its latest generation.
type fitnessReporter interface {
	Fitness() tensor.Tensor
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Algorithm == "" {
		req.Algorithm = "random-search"
	}
	if req.Problem == "" {
		req.Problem = "sphere"
	}
	if req.Population <= 0 {
		req.Population = 50
	}
	if req.Generations <= 0 {
		req.Generations = 100
	}
	if req.Dimension <= 0 {
		req.Dimension = 3
	}

	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	wf, reporter, err := buildWorkflow(req.Algorithm, req.Problem, req.Population, req.Dimension, req.Seed)
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	bestByGeneration := make([]float64, 0, req.Generations)
	generationStats := make([]model.GenerationStats, 0, req.Generations)
	for gen := 1; gen <= req.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunSummary{}, err
		}
		if err := wf.Step(); err != nil {
			return RunSummary{}, fmt.Errorf("generation %d: %w", gen, err)
		}
		fit := reporter.Fitness()
		best := fit.MinAll()
		if len(bestByGeneration) > 0 && bestByGeneration[len(bestByGeneration)-1] < best {
			best = bestByGeneration[len(bestByGeneration)-1]
		}
		bestByGeneration = append(bestByGeneration, best)
		generationStats = append(generationStats, model.GenerationStats{
			Generation:   gen,
			BestFitness:  fit.MinAll(),
			MeanFitness:  fit.MeanAll(),
			WorstFitness: fit.MaxAll(),
		})
	}

	finalBest := bestByGeneration[len(bestByGeneration)-1]
	run := model.RunRecord{
		ID:           runID,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
		Algorithm:    req.Algorithm,
		Problem:      req.Problem,
		PopSize:      req.Population,
		Generations:  req.Generations,
		Seed:         req.Seed,
		BestFitness:  finalBest,
	}
	artifactsDir, err := c.persistRun(ctx, run, bestByGeneration, generationStats, nil)
	if err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:            runID,
		ArtifactsDir:     artifactsDir,
		BestByGeneration: bestByGeneration,
		FinalBestFitness: finalBest,
	}, nil
}

func (c *Client) RunHPO(ctx context.Context, req HPORequest) (HPOSummary, error) {
	if req.Algorithm == "" {
		req.Algorithm = "random-search"
	}
	if req.Problem == "" {
		req.Problem = "sphere"
	}
	if req.Population <= 0 {
		req.Population = 20
	}
	if req.Dimension <= 0 {
		req.Dimension = 3
	}
	if req.Iterations <= 0 {
		req.Iterations = 9
	}
	if req.NumInstances <= 0 {
		req.NumInstances = 7
	}
	if req.Trials <= 0 {
		req.Trials = 8
	}
	if req.PerturbScale <= 0 {
		req.PerturbScale = 0.25
	}

	if err := c.Init(ctx); err != nil {
		return HPOSummary{}, err
	}

	makeWorkflow := func() (workflow.Workflow, error) {
		wf, _, err := buildWorkflow(req.Algorithm, req.Problem, req.Population, req.Dimension, req.Seed)
		return wf, err
	}
	wrapper, err := hpo.NewProblemWrapper(req.Iterations, req.NumInstances, hpo.Config{
		Workers:   req.Workers,
		Workflows: makeWorkflow,
	})
	if err != nil {
		return HPOSummary{}, err
	}
	wf, err := makeWorkflow()
	if err != nil {
		return HPOSummary{}, err
	}
	if err := wrapper.Setup(wf); err != nil {
		return HPOSummary{}, err
	}

	base := hpo.ExtractParameters(wrapper.InitState())
	rng := rand.New(rand.NewSource(int64(req.Seed) + 1000))

	runID := uuid.NewString()
	bestByTrial := make([]float64, 0, req.Trials)
	trials := make([]model.TrialRecord, 0, req.Trials*req.NumInstances)
	overallBest := 0.0
	var bestParameters map[string][]float64
	haveBest := false

	for trial := 0; trial < req.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return HPOSummary{}, err
		}

		// Trial 0 scores the workflow's own hyperparameters; later trials
		// perturb them uniformly around the base values.
		candidate := base.Clone()
		if trial > 0 {
			candidate = perturbParameters(base, req.PerturbScale, rng)
		}
		fitness, err := wrapper.Evaluate(candidate)
		if err != nil {
			return HPOSummary{}, fmt.Errorf("trial %d: %w", trial, err)
		}
		if fitness.Ndim() != 1 || fitness.Shape()[0] != req.NumInstances {
			return HPOSummary{}, fmt.Errorf("trial %d: fitness shape %v, expected [%d]", trial, fitness.Shape(), req.NumInstances)
		}
		bestByTrial = append(bestByTrial, fitness.MinAll())

		data := fitness.Data()
		for instance := 0; instance < req.NumInstances; instance++ {
			params, err := instanceParameters(candidate, instance)
			if err != nil {
				return HPOSummary{}, fmt.Errorf("trial %d instance %d: %w", trial, instance, err)
			}
			trials = append(trials, model.TrialRecord{
				ID:         uuid.NewString(),
				RunID:      runID,
				Trial:      trial,
				Instance:   instance,
				Parameters: params,
				Fitness:    data[instance],
			})
			if !haveBest || data[instance] < overallBest {
				overallBest = data[instance]
				bestParameters = params
				haveBest = true
			}
		}
	}

	run := model.RunRecord{
		ID:           runID,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
		Algorithm:    "hpo/" + req.Algorithm,
		Problem:      req.Problem,
		PopSize:      req.Population,
		Generations:  req.Iterations,
		Seed:         req.Seed,
		BestFitness:  overallBest,
	}
	artifactsDir, err := c.persistRun(ctx, run, bestByTrial, nil, trials)
	if err != nil {
		return HPOSummary{}, err
	}

	return HPOSummary{
		RunID:          runID,
		ArtifactsDir:   artifactsDir,
		Trials:         req.Trials,
		BestByTrial:    bestByTrial,
		BestFitness:    overallBest,
		BestParameters: bestParameters,
	}, nil
}

func (c *Client) Runs(ctx context.Context, limit int) ([]RunItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		items = append(items, RunItem{
			RunID:        run.ID,
			CreatedAtUTC: run.CreatedAtUTC,
			Algorithm:    run.Algorithm,
			Problem:      run.Problem,
			Population:   run.PopSize,
			Generations:  run.Generations,
			Seed:         run.Seed,
			BestFitness:  run.BestFitness,
		})
	}
	return items, nil
}

func (c *Client) FitnessHistory(ctx context.Context, runID string) ([]float64, bool, error) {
	if err := c.Init(ctx); err != nil {
		return nil, false, err
	}
	return c.store.GetFitnessHistory(ctx, runID)
}

func (c *Client) Trials(ctx context.Context, runID string) ([]model.TrialRecord, bool, error) {
	if err := c.Init(ctx); err != nil {
		return nil, false, err
	}
	return c.store.GetTrials(ctx, runID)
}

func (c *Client) persistRun(ctx context.Context, run model.RunRecord, history []float64, generationStats []model.GenerationStats, trials []model.TrialRecord) (string, error) {
	if err := c.store.SaveRun(ctx, run); err != nil {
		return "", err
	}
	if err := c.store.SaveFitnessHistory(ctx, run.ID, history); err != nil {
		return "", err
	}
	if generationStats != nil {
		if err := c.store.SaveGenerationStats(ctx, run.ID, generationStats); err != nil {
			return "", err
		}
	}
	if trials != nil {
		if err := c.store.SaveTrials(ctx, run.ID, trials); err != nil {
			return "", err
		}
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Run:              run,
		BestByGeneration: history,
		GenerationStats:  generationStats,
		Trials:           trials,
		FinalBestFitness: run.BestFitness,
	})
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            run.ID,
		Algorithm:        run.Algorithm,
		Problem:          run.Problem,
		PopulationSize:   run.PopSize,
		Generations:      run.Generations,
		Seed:             int64(run.Seed),
		FinalBestFitness: run.BestFitness,
		CreatedAtUTC:     run.CreatedAtUTC,
	}); err != nil {
		return "", err
	}
	return runDir, nil
}

func buildWorkflow(algorithm, problemName string, population, dimension int, seed uint64) (workflow.Workflow, fitnessReporter, error) {
	var prob workflow.Problem
	switch problemName {
	case "sphere":
		prob = problem.NewSphere()
	case "rastrigin":
		prob = problem.NewRastrigin()
	case "cart-pole-lite":
		rollout, err := problem.NewEnvRollout(problem.EnvRolloutConfig{
			Factory: func() env.Env {
				return env.NewCartPoleLite(env.CartPoleLiteConfig{StartPosition: 1.0})
			},
		})
		if err != nil {
			return nil, nil, err
		}
		dimension = rollout.WeightCount()
		prob = rollout
	default:
		return nil, nil, fmt.Errorf("unknown problem: %s", problemName)
	}

	var alg workflow.Algorithm
	var reporter fitnessReporter
	switch algorithm {
	case "random-search":
		rs, err := algo.NewRandomSearch(algo.RandomSearchConfig{
			PopSize:    population,
			LowerBound: tensor.Full(-5.12, dimension),
			UpperBound: tensor.Full(5.12, dimension),
			Seed:       seed,
		})
		if err != nil {
			return nil, nil, err
		}
		alg, reporter = rs, rs
	case "open-es":
		es, err := algo.NewOpenES(algo.OpenESConfig{
			PopSize:      population,
			Center:       tensor.Full(2.0, dimension),
			LearningRate: 0.1,
			Sigma:        0.5,
			Seed:         seed,
		})
		if err != nil {
			return nil, nil, err
		}
		alg, reporter = es, es
	default:
		return nil, nil, fmt.Errorf("unknown algorithm: %s", algorithm)
	}

	wf, err := workflow.NewStdWorkflow(alg, prob, hpo.NewFitnessMonitor())
	if err != nil {
		return nil, nil, err
	}
	return wf, reporter, nil
}

func perturbParameters(base *state.State, scale float64, rng *rand.Rand) *state.State {
	out := state.New()
	for _, k := range base.Keys() {
		e, _ := base.Get(k)
		perturbed := e.Tensor.Apply(func(v float64) float64 {
			span := scale * (1 + absf(v))
			return v + span*(2*rng.Float64()-1)
		})
		out.Set(k, state.Entry{Tensor: perturbed, Kind: e.Kind})
	}
	return out
}

func instanceParameters(batched *state.State, instance int) (map[string][]float64, error) {
	params := make(map[string][]float64, batched.Len())
	for _, k := range batched.Keys() {
		e, _ := batched.Get(k)
		row, err := e.Tensor.Row(instance)
		if err != nil {
			return nil, err
		}
		params[k] = row.Data()
	}
	return params, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
