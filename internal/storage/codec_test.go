package storage

import (
	"errors"
	"testing"

	"hyperevo/internal/model"
)

func TestRunCodecRoundTrip(t *testing.T) {
	run := model.RunRecord{
		ID:          "run-1",
		Algorithm:   "open-es",
		Problem:     "rastrigin",
		BestFitness: 1.5,
	}
	data, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != run.ID || got.BestFitness != run.BestFitness {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if got.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("schema version = %d", got.SchemaVersion)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	data := []byte(`{"schema_version": 999, "codec_version": 1, "id": "run-1"}`)
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestTrialsCodecRoundTrip(t *testing.T) {
	trials := []model.TrialRecord{{
		ID:         "t1",
		RunID:      "run-1",
		Trial:      2,
		Instance:   4,
		Parameters: map[string][]float64{"algorithm.lr": {0.05}},
		Fitness:    -1.25,
	}}
	data, err := EncodeTrials(trials)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTrials(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Instance != 4 || got[0].Parameters["algorithm.lr"][0] != 0.05 {
		t.Fatalf("round trip lost data: %+v", got)
	}
}

func TestHistoryCodecRoundTrip(t *testing.T) {
	data, err := EncodeHistory([]float64{5, 4, 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeHistory(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("unexpected history: %v", got)
	}
}
