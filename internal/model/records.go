package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one optimization run.
type RunRecord struct {
	VersionedRecord
	ID           string  `json:"id"`
	CreatedAtUTC string  `json:"created_at_utc"`
	Algorithm    string  `json:"algorithm"`
	Problem      string  `json:"problem"`
	PopSize      int     `json:"pop_size"`
	Generations  int     `json:"generations"`
	Seed         uint64  `json:"seed"`
	BestFitness  float64 `json:"best_fitness"`
}

// GenerationStats is per-generation population fitness bookkeeping.
// Problems minimize, so Best is the generation minimum.
type GenerationStats struct {
	Generation   int     `json:"generation"`
	BestFitness  float64 `json:"best_fitness"`
	MeanFitness  float64 `json:"mean_fitness"`
	WorstFitness float64 `json:"worst_fitness"`
}

// TrialRecord is one hyperparameter-optimization trial instance: the
// hyperparameter values an instance ran with and the best fitness its
// rollout reached.
type TrialRecord struct {
	VersionedRecord
	ID         string               `json:"id"`
	RunID      string               `json:"run_id"`
	Trial      int                  `json:"trial"`
	Instance   int                  `json:"instance"`
	Parameters map[string][]float64 `json:"parameters"`
	Fitness    float64              `json:"fitness"`
}
