// Package config loads CLI configuration from flags, environment
// variables, and an optional config file, in that precedence order.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Model     ModelConfig     `mapstructure:"model"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
}

type PathsConfig struct {
	CheckpointPath string `mapstructure:"checkpoint_path"`
	SpkEmbedPath   string `mapstructure:"spk_embed_path"`
}

type RuntimeConfig struct {
	Threads int   `mapstructure:"threads"`
	Seed    int64 `mapstructure:"seed"`
}

type ModelConfig struct {
	VocabSize          int64 `mapstructure:"vocab_size"`
	MidiSize           int64 `mapstructure:"midi_size"`
	BeatSize           int64 `mapstructure:"beat_size"`
	AuxChannels        int64 `mapstructure:"aux_channels"`
	HiddenChannels     int64 `mapstructure:"hidden_channels"`
	SampleRate         int64 `mapstructure:"sample_rate"`
	Speakers           int64 `mapstructure:"speakers"`
	Langs              int64 `mapstructure:"langs"`
	GlobalChannels     int64 `mapstructure:"global_channels"`
	SpkEmbedDim        int64 `mapstructure:"spk_embed_dim"`
	UseAlignmentSearch bool  `mapstructure:"use_alignment_search"`
	StochasticDuration bool  `mapstructure:"stochastic_duration"`
}

type SynthesisConfig struct {
	NoiseScale    float64 `mapstructure:"noise_scale"`
	NoiseScaleDur float64 `mapstructure:"noise_scale_dur"`
	Alpha         float64 `mapstructure:"alpha"`
	MaxLen        int64   `mapstructure:"max_len"`
	SpeakerID     int64   `mapstructure:"speaker_id"`
	LangID        int64   `mapstructure:"lang_id"`
	Normalize     bool    `mapstructure:"normalize"`
	FadeMs        float64 `mapstructure:"fade_ms"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Paths: PathsConfig{
			CheckpointPath: "models/generator.safetensors",
			SpkEmbedPath:   "",
		},
		Runtime: RuntimeConfig{
			Threads: 4,
			Seed:    0,
		},
		Model: ModelConfig{
			VocabSize:      64,
			MidiSize:       129,
			BeatSize:       128,
			AuxChannels:    513,
			HiddenChannels: 192,
			SampleRate:     24000,
			Speakers:       1,
			Langs:          1,
		},
		Synthesis: SynthesisConfig{
			NoiseScale:    0.667,
			NoiseScaleDur: 0.8,
			Alpha:         1.0,
			Normalize:     true,
			FadeMs:        5,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("paths-checkpoint-path", defaults.Paths.CheckpointPath, "Path to generator safetensors checkpoint")
	fs.String("paths-spk-embed-path", defaults.Paths.SpkEmbedPath, "Path to speaker embedding safetensors file")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "Convolution worker count")
	fs.Int64("runtime-seed", defaults.Runtime.Seed, "Sampling seed (0 = time-based)")
	fs.Int64("model-vocab-size", defaults.Model.VocabSize, "Score label vocabulary size")
	fs.Int64("model-midi-size", defaults.Model.MidiSize, "Pitch vocabulary size")
	fs.Int64("model-beat-size", defaults.Model.BeatSize, "Beat vocabulary size")
	fs.Int64("model-aux-channels", defaults.Model.AuxChannels, "Acoustic feature bins")
	fs.Int64("model-hidden-channels", defaults.Model.HiddenChannels, "Hidden channel count")
	fs.Int64("model-sample-rate", defaults.Model.SampleRate, "Output sample rate in Hz")
	fs.Int64("model-speakers", defaults.Model.Speakers, "Speaker count")
	fs.Int64("model-langs", defaults.Model.Langs, "Language count")
	fs.Int64("model-global-channels", defaults.Model.GlobalChannels, "Global conditioning channels")
	fs.Int64("model-spk-embed-dim", defaults.Model.SpkEmbedDim, "External speaker embedding dimension")
	fs.Bool("model-use-alignment-search", defaults.Model.UseAlignmentSearch, "Enable duration modeling with alignment search")
	fs.Bool("model-stochastic-duration", defaults.Model.StochasticDuration, "Use the flow-based duration model")
	fs.Float64("synthesis-noise-scale", defaults.Synthesis.NoiseScale, "Prior sampling temperature")
	fs.Float64("synthesis-noise-scale-dur", defaults.Synthesis.NoiseScaleDur, "Duration sampling temperature")
	fs.Float64("synthesis-alpha", defaults.Synthesis.Alpha, "Duration stretch factor")
	fs.Int64("synthesis-max-len", defaults.Synthesis.MaxLen, "Truncate the latent to this many frames (0 = off)")
	fs.Int64("synthesis-speaker-id", defaults.Synthesis.SpeakerID, "Speaker ID for multi-speaker models")
	fs.Int64("synthesis-lang-id", defaults.Synthesis.LangID, "Language ID for multi-language models")
	fs.Bool("synthesis-normalize", defaults.Synthesis.Normalize, "Peak-normalize the output")
	fs.Float64("synthesis-fade-ms", defaults.Synthesis.FadeMs, "Fade-in/out duration in milliseconds")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("SINGVITS")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("singvits")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("paths.checkpoint_path", c.Paths.CheckpointPath)
	v.SetDefault("paths.spk_embed_path", c.Paths.SpkEmbedPath)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.seed", c.Runtime.Seed)
	v.SetDefault("model.vocab_size", c.Model.VocabSize)
	v.SetDefault("model.midi_size", c.Model.MidiSize)
	v.SetDefault("model.beat_size", c.Model.BeatSize)
	v.SetDefault("model.aux_channels", c.Model.AuxChannels)
	v.SetDefault("model.hidden_channels", c.Model.HiddenChannels)
	v.SetDefault("model.sample_rate", c.Model.SampleRate)
	v.SetDefault("model.speakers", c.Model.Speakers)
	v.SetDefault("model.langs", c.Model.Langs)
	v.SetDefault("model.global_channels", c.Model.GlobalChannels)
	v.SetDefault("model.spk_embed_dim", c.Model.SpkEmbedDim)
	v.SetDefault("model.use_alignment_search", c.Model.UseAlignmentSearch)
	v.SetDefault("model.stochastic_duration", c.Model.StochasticDuration)
	v.SetDefault("synthesis.noise_scale", c.Synthesis.NoiseScale)
	v.SetDefault("synthesis.noise_scale_dur", c.Synthesis.NoiseScaleDur)
	v.SetDefault("synthesis.alpha", c.Synthesis.Alpha)
	v.SetDefault("synthesis.max_len", c.Synthesis.MaxLen)
	v.SetDefault("synthesis.speaker_id", c.Synthesis.SpeakerID)
	v.SetDefault("synthesis.lang_id", c.Synthesis.LangID)
	v.SetDefault("synthesis.normalize", c.Synthesis.Normalize)
	v.SetDefault("synthesis.fade_ms", c.Synthesis.FadeMs)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("paths.checkpoint_path", "paths-checkpoint-path")
	v.RegisterAlias("paths.spk_embed_path", "paths-spk-embed-path")
	v.RegisterAlias("runtime.threads", "runtime-threads")
	v.RegisterAlias("runtime.seed", "runtime-seed")
	v.RegisterAlias("model.vocab_size", "model-vocab-size")
	v.RegisterAlias("model.midi_size", "model-midi-size")
	v.RegisterAlias("model.beat_size", "model-beat-size")
	v.RegisterAlias("model.aux_channels", "model-aux-channels")
	v.RegisterAlias("model.hidden_channels", "model-hidden-channels")
	v.RegisterAlias("model.sample_rate", "model-sample-rate")
	v.RegisterAlias("model.speakers", "model-speakers")
	v.RegisterAlias("model.langs", "model-langs")
	v.RegisterAlias("model.global_channels", "model-global-channels")
	v.RegisterAlias("model.spk_embed_dim", "model-spk-embed-dim")
	v.RegisterAlias("model.use_alignment_search", "model-use-alignment-search")
	v.RegisterAlias("model.stochastic_duration", "model-stochastic-duration")
	v.RegisterAlias("synthesis.noise_scale", "synthesis-noise-scale")
	v.RegisterAlias("synthesis.noise_scale_dur", "synthesis-noise-scale-dur")
	v.RegisterAlias("synthesis.alpha", "synthesis-alpha")
	v.RegisterAlias("synthesis.max_len", "synthesis-max-len")
	v.RegisterAlias("synthesis.speaker_id", "synthesis-speaker-id")
	v.RegisterAlias("synthesis.lang_id", "synthesis-lang-id")
	v.RegisterAlias("synthesis.normalize", "synthesis-normalize")
	v.RegisterAlias("synthesis.fade_ms", "synthesis-fade-ms")
}
