package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseScore(t *testing.T) {
	s, err := ParseScore([]byte(`{
		"labels": [1, 2, 3],
		"midis": [60, 62, 64],
		"beats": [1, 2, 3],
		"durations": [2, 4, 2]
	}`))
	if err != nil {
		t.Fatalf("ParseScore: %v", err)
	}

	if len(s.Labels) != 3 || s.Midis[1] != 62 || s.Durations[2] != 2 {
		t.Fatalf("unexpected score: %+v", s)
	}
}

func TestParseScoreRejectsMismatchedStreams(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty", `{"labels": [], "midis": [], "beats": []}`, "no labels"},
		{"midis", `{"labels": [1, 2], "midis": [60], "beats": [1, 2]}`, "midi"},
		{"beats", `{"labels": [1, 2], "midis": [60, 62], "beats": [1]}`, "beat"},
		{"durations", `{"labels": [1, 2], "midis": [60, 62], "beats": [1, 2], "durations": [3]}`, "durations"},
		{"garbage", `{"labels": "nope"}`, "parse score"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScore([]byte(tc.body))
			if err == nil {
				t.Fatal("expected error")
			}

			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "score.json")

	body := `{"labels": [5], "midis": [72], "beats": [1]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write score: %v", err)
	}

	s, err := LoadScore(path)
	if err != nil {
		t.Fatalf("LoadScore: %v", err)
	}

	if len(s.Labels) != 1 || s.Labels[0] != 5 {
		t.Fatalf("unexpected score: %+v", s)
	}

	if _, err := LoadScore(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
