package main

import (
	"fmt"

	"github.com/example/go-singvits/internal/config"
	"github.com/example/go-singvits/internal/svs"
)

// generatorConfig maps the file-level model section onto the generator
// topology, keeping the remaining structural defaults.
func generatorConfig(m config.ModelConfig) svs.Config {
	cfg := svs.DefaultConfig()

	cfg.VocabSize = m.VocabSize
	if m.MidiSize > 0 {
		cfg.MidiSize = m.MidiSize
	}
	if m.BeatSize > 0 {
		cfg.BeatSize = m.BeatSize
	}
	if m.AuxChannels > 0 {
		cfg.AuxChannels = m.AuxChannels
	}
	if m.HiddenChannels > 0 {
		cfg.HiddenChannels = m.HiddenChannels
	}
	if m.SampleRate > 0 {
		cfg.SampleRate = m.SampleRate
	}
	if m.Speakers > 0 {
		cfg.Speakers = m.Speakers
	}
	if m.Langs > 0 {
		cfg.Langs = m.Langs
	}

	cfg.GlobalChannels = m.GlobalChannels
	cfg.SpkEmbedDim = m.SpkEmbedDim
	cfg.UseAlignmentSearch = m.UseAlignmentSearch
	cfg.UseStochasticDuration = m.StochasticDuration

	return cfg
}

// loadGenerator builds the generator from the configured checkpoint.
func loadGenerator(cfg config.Config) (*svs.Generator, error) {
	src, err := svs.OpenCheckpoint(cfg.Paths.CheckpointPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	gen, err := svs.NewGenerator(generatorConfig(cfg.Model), src)
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}

	return gen, nil
}
