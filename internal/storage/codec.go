package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"hyperevo/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRun(r model.RunRecord) ([]byte, error) {
	r.SchemaVersion = CurrentSchemaVersion
	r.CodecVersion = CurrentCodecVersion
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeTrials(trials []model.TrialRecord) ([]byte, error) {
	stamped := make([]model.TrialRecord, len(trials))
	for i, t := range trials {
		t.SchemaVersion = CurrentSchemaVersion
		t.CodecVersion = CurrentCodecVersion
		stamped[i] = t
	}
	return json.Marshal(stamped)
}

func DecodeTrials(data []byte) ([]model.TrialRecord, error) {
	var trials []model.TrialRecord
	if err := json.Unmarshal(data, &trials); err != nil {
		return nil, err
	}
	for i, t := range trials {
		if err := checkVersion(t.VersionedRecord); err != nil {
			return nil, fmt.Errorf("trial %d: %w", i, err)
		}
	}
	return trials, nil
}

func EncodeGenerationStats(stats []model.GenerationStats) ([]byte, error) {
	return json.Marshal(stats)
}

func DecodeGenerationStats(data []byte) ([]model.GenerationStats, error) {
	var stats []model.GenerationStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func EncodeHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
