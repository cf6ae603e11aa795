package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/example/go-singvits/internal/audio"
	"github.com/example/go-singvits/internal/config"
	"github.com/example/go-singvits/internal/runtime/tensor"
	"github.com/example/go-singvits/internal/safetensors"
	"github.com/example/go-singvits/internal/svs"
	"github.com/spf13/cobra"
)

func newSynthCmd() *cobra.Command {
	var scorePath string
	var out string
	var useScoreDurations bool

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize a musical score to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if scorePath == "" {
				return fmt.Errorf("provide a score file with --score")
			}

			score, err := LoadScore(scorePath)
			if err != nil {
				return err
			}

			gen, err := loadGenerator(cfg)
			if err != nil {
				return err
			}

			wavData, err := synthesizeScore(gen, cfg, score, useScoreDurations)
			if err != nil {
				return err
			}

			return writeSynthOutput(out, wavData, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&scorePath, "score", "", "Path to JSON score file")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&useScoreDurations, "use-score-durations", false, "Use durations from the score instead of the duration model")

	return cmd
}

func synthesizeScore(gen *svs.Generator, cfg config.Config, score *Score, useScoreDurations bool) ([]byte, error) {
	rng := newRNG(cfg.Runtime.Seed)

	in := &svs.InferInput{
		Labels:       [][]int64{score.Labels},
		LabelLengths: []int64{int64(len(score.Labels))},
		Midis:        [][]int64{score.Midis},
		Beats:        [][]int64{score.Beats},
	}

	if len(score.Tempos) > 0 {
		in.Tempos = [][]int64{score.Tempos}
	}

	if useScoreDurations {
		if len(score.Durations) == 0 {
			return nil, fmt.Errorf("score carries no durations")
		}

		durData := make([]float32, len(score.Durations))
		for i, d := range score.Durations {
			durData[i] = float32(d)
		}

		durations, err := tensor.New(durData, []int64{1, 1, int64(len(durData))})
		if err != nil {
			return nil, err
		}

		in.Durations = durations
	}

	if gen.Config().Speakers > 1 {
		in.SpeakerIDs = []int64{cfg.Synthesis.SpeakerID}
	}

	if gen.Config().Langs > 1 {
		in.LangIDs = []int64{cfg.Synthesis.LangID}
	}

	if gen.Config().SpkEmbedDim > 0 {
		if cfg.Paths.SpkEmbedPath == "" {
			return nil, fmt.Errorf("model expects speaker embeddings; set paths.spk_embed_path")
		}

		embData, embShape, err := safetensors.LoadSpeakerEmbedding(cfg.Paths.SpkEmbedPath)
		if err != nil {
			return nil, err
		}

		embeds, err := tensor.New(embData, embShape)
		if err != nil {
			return nil, err
		}

		in.SpkEmbeds = embeds
	}

	opts := svs.DefaultInferOptions()
	opts.NoiseScale = float32(cfg.Synthesis.NoiseScale)
	opts.NoiseScaleDur = float32(cfg.Synthesis.NoiseScaleDur)
	opts.Alpha = float32(cfg.Synthesis.Alpha)
	opts.MaxLen = cfg.Synthesis.MaxLen

	start := time.Now()

	result, err := gen.Infer(in, opts, rng)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	samples := result.Wav.Data()

	slog.Info("synthesized score",
		"positions", len(score.Labels),
		"samples", len(samples),
		"elapsed", time.Since(start).String(),
	)

	sampleRate := int(gen.SampleRate())

	hooks := make([]audio.Hook, 0, 3)
	if cfg.Synthesis.Normalize {
		hooks = append(hooks, func(s []float32) []float32 { return audio.PeakNormalize(s, 0.95) })
	}
	if cfg.Synthesis.FadeMs > 0 {
		hooks = append(hooks,
			func(s []float32) []float32 { return audio.FadeIn(s, sampleRate, cfg.Synthesis.FadeMs) },
			func(s []float32) []float32 { return audio.FadeOut(s, sampleRate, cfg.Synthesis.FadeMs) },
		)
	}

	samples = audio.ApplyHooks(samples, hooks...)

	return audio.EncodeWAV(samples, sampleRate)
}

func newRNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return rand.New(rand.NewSource(seed))
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}
