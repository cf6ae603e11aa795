package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// Score is the JSON input format: per-frame label, pitch and beat IDs, with
// optional tempo IDs and reference durations.
type Score struct {
	Labels    []int64 `json:"labels"`
	Midis     []int64 `json:"midis"`
	Beats     []int64 `json:"beats"`
	Tempos    []int64 `json:"tempos,omitempty"`
	Durations []int64 `json:"durations,omitempty"`
}

func LoadScore(path string) (*Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read score: %w", err)
	}

	return ParseScore(data)
}

func ParseScore(data []byte) (*Score, error) {
	var s Score
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse score: %w", err)
	}

	n := len(s.Labels)
	if n == 0 {
		return nil, fmt.Errorf("score has no labels")
	}

	if len(s.Midis) != n {
		return nil, fmt.Errorf("score has %d midi entries for %d labels", len(s.Midis), n)
	}

	if len(s.Beats) != n {
		return nil, fmt.Errorf("score has %d beat entries for %d labels", len(s.Beats), n)
	}

	if len(s.Tempos) != 0 && len(s.Tempos) != n {
		return nil, fmt.Errorf("score has %d tempo entries for %d labels", len(s.Tempos), n)
	}

	if len(s.Durations) != 0 && len(s.Durations) != n {
		return nil, fmt.Errorf("score has %d durations for %d labels", len(s.Durations), n)
	}

	return &s, nil
}
