package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"gradmatch/pkg/gradmatch"
)

// loadRunConfig reads a JSON run config whose keys mirror the
// gradmatch.Config field names in snake_case. Time and data are inline
// arrays; data is row-major, one row per observation time.
func loadRunConfig(path string) (gradmatch.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return gradmatch.Config{}, fmt.Errorf("load config: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return gradmatch.Config{}, fmt.Errorf("load config: %w", err)
	}

	var cfg gradmatch.Config
	if v, ok := asFloatSlice(doc["time"]); ok {
		cfg.Time = v
	}
	if v, ok := asMatrix(doc["data"]); ok {
		cfg.Data = v
	}
	if v, ok := asString(doc["system"]); ok {
		cfg.SystemName = v
	}
	if v, ok := asFloat64(doc["noise_sd"]); ok {
		cfg.NoiseSD = v
	}
	if v, ok := asInt(doc["max_iterations"]); ok {
		cfg.MaxIterations = v
	}
	if v, ok := asInt(doc["chain_count"]); ok {
		cfg.ChainCount = v
	}
	if v, ok := asBool(doc["explicit"]); ok {
		cfg.Explicit = v
	}
	if v, ok := asBool(doc["infer_noise"]); ok {
		cfg.InferNoise = v
	}
	if v, ok := asBool(doc["temper_mismatch"]); ok {
		cfg.TemperMismatch = v
	}
	if v, ok := asString(doc["tempering_scheme"]); ok {
		cfg.TemperingScheme = v
	}
	if v, ok := asMatrix(doc["mismatch_values"]); ok {
		cfg.MismatchValues = v
	}
	if v, ok := asIntSlice(doc["observed_variables"]); ok {
		cfg.ObservedVariables = v
	}
	if v, ok := asString(doc["log_prior"]); ok {
		cfg.LogPrior = v
	}
	if v, ok := asString(doc["kernel"]); ok {
		cfg.Kernel = v
	}
	if v, ok := asInt(doc["gp_restarts"]); ok {
		cfg.GPRestarts = v
	}
	if v, ok := asInt(doc["substeps"]); ok {
		cfg.Substeps = v
	}
	if v, ok := asFloatSlice(doc["initial_params"]); ok {
		cfg.InitialParams = v
	}
	if v, ok := asInt64(doc["seed"]); ok {
		cfg.Seed = v
	}
	if v, ok := asInt(doc["workers"]); ok {
		cfg.Workers = v
	}
	if v, ok := asInt(doc["thinning_interval"]); ok {
		cfg.ThinningInterval = v
	}
	if v, ok := asInt(doc["trace_interval"]); ok {
		cfg.TraceInterval = v
	}
	if v, ok := asInt(doc["exchange_interval"]); ok {
		cfg.ExchangeInterval = v
	}
	if v, ok := asInt(doc["adapt_interval"]); ok {
		cfg.AdaptInterval = v
	}
	if v, ok := asString(doc["run_id"]); ok {
		cfg.RunID = v
	}
	return cfg, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asFloatSlice(v any) ([]float64, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := asFloat64(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func asIntSlice(v any) ([]int, bool) {
	fs, ok := asFloatSlice(v)
	if !ok {
		return nil, false
	}
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = int(f)
	}
	return out, true
}

// asMatrix accepts an array of equal-length row arrays.
func asMatrix(v any) (*mat.Dense, bool) {
	rows, ok := v.([]any)
	if !ok || len(rows) == 0 {
		return nil, false
	}
	var m *mat.Dense
	var cols int
	for i, rowVal := range rows {
		row, ok := asFloatSlice(rowVal)
		if !ok {
			return nil, false
		}
		if i == 0 {
			cols = len(row)
			if cols == 0 {
				return nil, false
			}
			m = mat.NewDense(len(rows), cols, nil)
		}
		if len(row) != cols {
			return nil, false
		}
		m.SetRow(i, row)
	}
	return m, true
}
