// Package svs implements the generator network of a VITS-style singing
// voice synthesizer: a score encoder, a posterior encoder over acoustic
// features, a normalizing flow between the two latent spaces, duration
// modeling with monotonic alignment search, and a waveform decoder.
package svs

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-singvits/internal/runtime/tensor"
	"github.com/example/go-singvits/internal/safetensors"
)

// Config fixes the generator topology. Zero values are invalid for the
// required fields; start from DefaultConfig.
type Config struct {
	VocabSize int64 // score label vocabulary, including padding at 0
	MidiSize  int64 // pitch vocabulary
	BeatSize  int64 // beat vocabulary
	TempoSize int64 // tempo vocabulary, carried in the score but not embedded

	AuxChannels    int64 // acoustic feature bins
	HiddenChannels int64
	SegmentSize    int64 // latent frames cropped per training example
	SampleRate     int64

	EncoderBlocks int64
	EncoderHeads  int64
	EncoderFFNDim int64
	Fusion        string

	PosteriorKernel       int64
	PosteriorLayers       int64
	PosteriorStacks       int64
	PosteriorBaseDilation int64

	FlowSteps    int64
	FlowKernel   int64
	FlowLayers   int64
	FlowMeanOnly bool

	// UseAlignmentSearch enables the duration model plus monotonic
	// alignment path. When off, the score stream is assumed frame-aligned
	// with the acoustic features and the prior is used as-is.
	UseAlignmentSearch    bool
	UseStochasticDuration bool
	DurationFilter        int64
	DurationKernel        int64
	DurationFlows         int64

	DecoderChannels   int64
	UpsampleScales    []int64
	UpsampleKernels   []int64
	ResblockKernels   []int64
	ResblockDilations [][]int64

	GlobalChannels int64
	Speakers       int64
	SpkEmbedDim    int64
	Langs          int64
}

func DefaultConfig() Config {
	return Config{
		MidiSize:  129,
		BeatSize:  128,
		TempoSize: 128,

		AuxChannels:    513,
		HiddenChannels: 192,
		SegmentSize:    32,
		SampleRate:     24000,

		EncoderBlocks: 6,
		EncoderHeads:  2,
		EncoderFFNDim: 768,
		Fusion:        FusionAdd,

		PosteriorKernel:       5,
		PosteriorLayers:       16,
		PosteriorStacks:       1,
		PosteriorBaseDilation: 1,

		FlowSteps:  4,
		FlowKernel: 5,
		FlowLayers: 4,

		DurationFilter: 256,
		DurationKernel: 3,
		DurationFlows:  4,

		DecoderChannels:   512,
		UpsampleScales:    []int64{8, 8, 2, 2},
		UpsampleKernels:   []int64{16, 16, 4, 4},
		ResblockKernels:   []int64{3, 7, 11},
		ResblockDilations: [][]int64{{1, 3, 5}, {1, 3, 5}, {1, 3, 5}},

		Speakers: 1,
		Langs:    1,
	}
}

// Generator ties the sub-networks together.
type Generator struct {
	cfg Config
	vb  *VarBuilder

	encoder   *ScoreEncoder
	posterior *PosteriorEncoder
	flow      *ResidualCouplingBlock
	duration  DurationModel
	decoder   *Decoder

	spkEmb  *embedding
	spkProj *linear
	langEmb *embedding
}

func NewGenerator(cfg Config, src Source) (*Generator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	vb := NewVarBuilder(src)
	gen := &Generator{cfg: cfg, vb: vb}

	var err error

	gen.encoder, err = NewScoreEncoder(
		vb.Path("score_encoder"),
		cfg.VocabSize, cfg.MidiSize, cfg.BeatSize,
		cfg.HiddenChannels, cfg.EncoderHeads, cfg.EncoderBlocks, cfg.EncoderFFNDim,
		cfg.Fusion,
	)
	if err != nil {
		return nil, err
	}

	gen.posterior, err = NewPosteriorEncoder(
		vb.Path("posterior_encoder"),
		cfg.AuxChannels, cfg.HiddenChannels,
		cfg.PosteriorKernel, cfg.PosteriorLayers, cfg.PosteriorStacks, cfg.PosteriorBaseDilation,
		cfg.GlobalChannels,
	)
	if err != nil {
		return nil, err
	}

	gen.flow, err = NewResidualCouplingBlock(
		vb.Path("flow"),
		cfg.HiddenChannels, cfg.HiddenChannels,
		cfg.FlowKernel, cfg.FlowLayers, cfg.FlowSteps,
		cfg.GlobalChannels, cfg.FlowMeanOnly,
	)
	if err != nil {
		return nil, err
	}

	if cfg.UseAlignmentSearch {
		if cfg.UseStochasticDuration {
			gen.duration, err = NewStochasticDurationPredictor(
				vb.Path("duration"),
				cfg.HiddenChannels, cfg.DurationFilter, cfg.DurationKernel, cfg.DurationFlows,
				cfg.GlobalChannels,
			)
		} else {
			gen.duration, err = NewRegressionDurationPredictor(
				vb.Path("duration"),
				cfg.HiddenChannels, cfg.DurationFilter, cfg.DurationKernel,
				cfg.GlobalChannels,
			)
		}

		if err != nil {
			return nil, err
		}
	}

	gen.decoder, err = NewDecoder(vb.Path("decoder"), DecoderConfig{
		InChannels:       cfg.HiddenChannels,
		Channels:         cfg.DecoderChannels,
		GlobalChannels:   cfg.GlobalChannels,
		UpsampleScales:   cfg.UpsampleScales,
		UpsampleKernels:  cfg.UpsampleKernels,
		ResblockKernels:  cfg.ResblockKernels,
		ResblockDilation: cfg.ResblockDilations,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Speakers > 1 {
		if gen.spkEmb, err = newEmbedding(vb, "speaker_emb", cfg.Speakers, cfg.GlobalChannels); err != nil {
			return nil, err
		}
	}

	if cfg.SpkEmbedDim > 0 {
		if gen.spkProj, err = newLinear(vb, "speaker_proj", cfg.SpkEmbedDim, cfg.GlobalChannels); err != nil {
			return nil, err
		}
	}

	if cfg.Langs > 1 {
		if gen.langEmb, err = newEmbedding(vb, "lang_emb", cfg.Langs, cfg.GlobalChannels); err != nil {
			return nil, err
		}
	}

	return gen, nil
}

func validateConfig(cfg Config) error {
	if cfg.VocabSize <= 0 {
		return fmt.Errorf("svs: config requires a positive vocab size, got %d", cfg.VocabSize)
	}

	if cfg.MidiSize <= 0 || cfg.BeatSize <= 0 {
		return fmt.Errorf("svs: config requires positive midi/beat sizes, got %d/%d", cfg.MidiSize, cfg.BeatSize)
	}

	if cfg.AuxChannels <= 0 {
		return fmt.Errorf("svs: config requires positive aux channels, got %d", cfg.AuxChannels)
	}

	if cfg.HiddenChannels <= 0 || cfg.HiddenChannels%2 != 0 {
		return fmt.Errorf("svs: hidden channels must be positive and even, got %d", cfg.HiddenChannels)
	}

	if cfg.SegmentSize <= 0 {
		return fmt.Errorf("svs: segment size must be positive, got %d", cfg.SegmentSize)
	}

	if cfg.SampleRate <= 0 {
		return fmt.Errorf("svs: sample rate must be positive, got %d", cfg.SampleRate)
	}

	if cfg.EncoderBlocks <= 0 || cfg.EncoderHeads <= 0 || cfg.HiddenChannels%cfg.EncoderHeads != 0 {
		return fmt.Errorf("svs: encoder needs positive blocks and heads dividing %d, got blocks=%d heads=%d",
			cfg.HiddenChannels, cfg.EncoderBlocks, cfg.EncoderHeads)
	}

	needsGlobal := cfg.Speakers > 1 || cfg.SpkEmbedDim > 0 || cfg.Langs > 1
	if needsGlobal && cfg.GlobalChannels <= 0 {
		return fmt.Errorf("svs: multi-speaker or multi-language conditioning requires positive global channels, got %d", cfg.GlobalChannels)
	}

	return nil
}

// Parameters exports every model tensor, keyed by dotted path, suitable for
// writing as a checkpoint.
func (gen *Generator) Parameters() []safetensors.Tensor {
	return gen.vb.Parameters()
}

func (gen *Generator) Config() Config { return gen.cfg }

// UpsampleFactor is the number of waveform samples per latent frame.
func (gen *Generator) UpsampleFactor() int64 { return gen.decoder.UpsampleFactor() }

func (gen *Generator) SampleRate() int64 { return gen.cfg.SampleRate }

// ForwardInput is a padded training batch. The integer score streams are
// [B][T] with per-example lengths; Feats is [B,aux,TFeat].
type ForwardInput struct {
	Labels       [][]int64
	LabelLengths []int64
	Midis        [][]int64
	Beats        [][]int64
	Tempos       [][]int64 // carried for symmetry with the score format

	Feats       *tensor.Tensor
	FeatLengths []int64

	Durations *tensor.Tensor // [B,1,TText] reference durations, may be nil

	SpeakerIDs []int64
	SpkEmbeds  *tensor.Tensor // [B,SpkEmbedDim]
	LangIDs    []int64
}

// ForwardOutput exposes the intermediate distributions a training loop
// needs for its losses alongside the decoded segment.
type ForwardOutput struct {
	Wav         *tensor.Tensor // [B,1,SegmentSize*UpsampleFactor]
	StartFrames []int64

	Z, ZP          *tensor.Tensor
	MP, LogsP      *tensor.Tensor
	MQ, LogsQ      *tensor.Tensor
	XMask, YMask   *tensor.Tensor
	Attn           *tensor.Tensor // alignment mode only
	DurationScores []float32      // alignment mode only
}

// Forward runs the training-direction pass: score and features in, a
// randomly cropped decoded segment plus all latent statistics out.
func (gen *Generator) Forward(in *ForwardInput, rng *rand.Rand) (*ForwardOutput, error) {
	if in == nil || in.Feats == nil || in.Feats.Rank() != 3 {
		return nil, fmt.Errorf("svs: forward requires [B,aux,T] features")
	}

	if in.Feats.Shape()[1] != gen.cfg.AuxChannels {
		return nil, fmt.Errorf("svs: forward got %d feature channels, want %d", in.Feats.Shape()[1], gen.cfg.AuxChannels)
	}

	if rng == nil {
		return nil, fmt.Errorf("svs: forward requires an rng")
	}

	tFeat := in.Feats.Shape()[2]

	labels, labelLens, err := reconcileLengths(in.Labels, in.LabelLengths, tFeat)
	if err != nil {
		return nil, fmt.Errorf("svs: label stream: %w", err)
	}

	midis, _, err := reconcileLengths(in.Midis, in.LabelLengths, tFeat)
	if err != nil {
		return nil, fmt.Errorf("svs: midi stream: %w", err)
	}

	beats, _, err := reconcileLengths(in.Beats, in.LabelLengths, tFeat)
	if err != nil {
		return nil, fmt.Errorf("svs: beat stream: %w", err)
	}

	x, mP, logsP, xMask, err := gen.encoder.Forward(labels, midis, beats, labelLens)
	if err != nil {
		return nil, err
	}

	g, err := gen.globalConditioning(in.SpeakerIDs, in.SpkEmbeds, in.LangIDs, int64(len(in.Labels)))
	if err != nil {
		return nil, err
	}

	z, mQ, logsQ, yMask, err := gen.posterior.Forward(in.Feats, in.FeatLengths, g, rng)
	if err != nil {
		return nil, err
	}

	zP, err := gen.flow.Forward(z, yMask, g)
	if err != nil {
		return nil, err
	}

	out := &ForwardOutput{
		Z: z, ZP: zP,
		MP: mP, LogsP: logsP,
		MQ: mQ, LogsQ: logsQ,
		XMask: xMask, YMask: yMask,
	}

	if gen.cfg.UseAlignmentSearch {
		score, err := gaussianLogLikelihood(zP, mP, logsP)
		if err != nil {
			return nil, err
		}

		attnMask, err := outerMask(yMask, xMask)
		if err != nil {
			return nil, err
		}

		attn, err := maximumPath(score, attnMask)
		if err != nil {
			return nil, err
		}

		w, err := sumOverFrames(attn)
		if err != nil {
			return nil, err
		}

		scores, err := gen.duration.NLL(x, xMask, w, g, rng)
		if err != nil {
			return nil, err
		}

		if out.MP, out.LogsP, err = expandPrior(attn, mP, logsP); err != nil {
			return nil, err
		}

		out.Attn = attn
		out.DurationScores = scores
	}

	zSeg, starts, err := randomSegments(z, in.FeatLengths, gen.cfg.SegmentSize, rng)
	if err != nil {
		return nil, err
	}

	wav, err := gen.decoder.Forward(zSeg, g)
	if err != nil {
		return nil, err
	}

	out.Wav = wav
	out.StartFrames = starts

	return out, nil
}

// InferInput is a padded inference batch. Feats is only consulted in
// teacher-forcing mode; Durations overrides the duration model when
// alignment search is enabled.
type InferInput struct {
	Labels       [][]int64
	LabelLengths []int64
	Midis        [][]int64
	Beats        [][]int64
	Tempos       [][]int64

	Feats       *tensor.Tensor
	FeatLengths []int64

	Durations *tensor.Tensor

	SpeakerIDs []int64
	SpkEmbeds  *tensor.Tensor
	LangIDs    []int64
}

// InferOptions tunes the sampling behavior of Infer.
type InferOptions struct {
	NoiseScale    float32 // prior sampling temperature
	NoiseScaleDur float32 // duration sampling temperature
	Alpha         float32 // duration stretch
	MaxLen        int64   // truncate the latent to this many frames, 0 = off

	// TeacherForcing routes real features through the posterior encoder
	// instead of sampling from the prior.
	TeacherForcing bool
}

func DefaultInferOptions() InferOptions {
	return InferOptions{NoiseScale: 0.667, NoiseScaleDur: 0.8, Alpha: 1}
}

// InferOutput holds the decoded waveform and the alignment actually used.
type InferOutput struct {
	Wav  *tensor.Tensor // [B,1,N]
	Attn *tensor.Tensor // nil outside alignment mode
	Z    *tensor.Tensor
}

// Infer runs the synthesis-direction pass.
func (gen *Generator) Infer(in *InferInput, opts InferOptions, rng *rand.Rand) (*InferOutput, error) {
	if in == nil || len(in.Labels) == 0 {
		return nil, fmt.Errorf("svs: infer requires a non-empty score batch")
	}

	if rng == nil {
		return nil, fmt.Errorf("svs: infer requires an rng")
	}

	x, mP, logsP, xMask, err := gen.encoder.Forward(in.Labels, in.Midis, in.Beats, in.LabelLengths)
	if err != nil {
		return nil, err
	}

	g, err := gen.globalConditioning(in.SpeakerIDs, in.SpkEmbeds, in.LangIDs, int64(len(in.Labels)))
	if err != nil {
		return nil, err
	}

	if opts.TeacherForcing {
		return gen.inferTeacherForced(in, g, rng)
	}

	yMask := xMask

	var attn *tensor.Tensor

	if gen.cfg.UseAlignmentSearch {
		w := in.Durations

		if w == nil {
			logw, err := gen.duration.Sample(x, xMask, g, opts.NoiseScaleDur, rng)
			if err != nil {
				return nil, err
			}

			w, err = durationsFromLogScale(logw, xMask, opts.Alpha)
			if err != nil {
				return nil, err
			}
		}

		yLengths, err := frameLengths(w)
		if err != nil {
			return nil, err
		}

		maxY := yLengths[0]
		for _, l := range yLengths[1:] {
			maxY = max(maxY, l)
		}

		if yMask, err = sequenceMask(yLengths, maxY); err != nil {
			return nil, err
		}

		attnMask, err := outerMask(yMask, xMask)
		if err != nil {
			return nil, err
		}

		if attn, err = generatePath(w, attnMask); err != nil {
			return nil, err
		}

		if mP, logsP, err = expandPrior(attn, mP, logsP); err != nil {
			return nil, err
		}
	}

	eps, err := randnLike(mP, rng)
	if err != nil {
		return nil, err
	}

	scaled, err := mulSameShape(scaleTensor(eps, opts.NoiseScale), expTensor(logsP))
	if err != nil {
		return nil, err
	}

	zP, err := addSameShape(mP, scaled)
	if err != nil {
		return nil, err
	}

	if zP, err = applyMask(zP, yMask); err != nil {
		return nil, err
	}

	z, err := gen.flow.Inverse(zP, yMask, g)
	if err != nil {
		return nil, err
	}

	if z, err = applyMask(z, yMask); err != nil {
		return nil, err
	}

	if opts.MaxLen > 0 && opts.MaxLen < z.Shape()[2] {
		if z, err = z.Narrow(2, 0, opts.MaxLen); err != nil {
			return nil, err
		}
	}

	wav, err := gen.decoder.Forward(z, g)
	if err != nil {
		return nil, err
	}

	return &InferOutput{Wav: wav, Attn: attn, Z: z}, nil
}

func (gen *Generator) inferTeacherForced(in *InferInput, g *tensor.Tensor, rng *rand.Rand) (*InferOutput, error) {
	if in.Feats == nil {
		return nil, fmt.Errorf("svs: teacher forcing requires acoustic features")
	}

	z, _, _, yMask, err := gen.posterior.Forward(in.Feats, in.FeatLengths, g, rng)
	if err != nil {
		return nil, err
	}

	// Run the flow as in training so the latent statistics match.
	if _, err := gen.flow.Forward(z, yMask, g); err != nil {
		return nil, err
	}

	wav, err := gen.decoder.Forward(z, g)
	if err != nil {
		return nil, err
	}

	return &InferOutput{Wav: wav, Z: z}, nil
}

// globalConditioning sums the configured speaker/language contributors into
// one [B,GlobalChannels,1] vector, or returns nil when none apply.
func (gen *Generator) globalConditioning(sids []int64, spembs *tensor.Tensor, lids []int64, batch int64) (*tensor.Tensor, error) {
	var g *tensor.Tensor

	add := func(contrib *tensor.Tensor) error {
		if g == nil {
			g = contrib
			return nil
		}

		var err error

		g, err = addSameShape(g, contrib)

		return err
	}

	if gen.spkEmb != nil {
		if int64(len(sids)) != batch {
			return nil, fmt.Errorf("svs: got %d speaker IDs for batch of %d", len(sids), batch)
		}

		rows := make([]*tensor.Tensor, 0, batch)
		for _, sid := range sids {
			row, err := gen.spkEmb.Lookup(sid)
			if err != nil {
				return nil, err
			}

			rows = append(rows, row)
		}

		contrib, err := tensor.Concat(rows, 0)
		if err != nil {
			return nil, err
		}

		if err := add(contrib); err != nil {
			return nil, err
		}
	}

	if gen.spkProj != nil {
		if spembs == nil || spembs.Rank() != 2 || spembs.Shape()[0] != batch {
			return nil, fmt.Errorf("svs: speaker embeddings must be [B,%d]", gen.cfg.SpkEmbedDim)
		}

		normed, err := normalizeRows(spembs)
		if err != nil {
			return nil, err
		}

		proj, err := gen.spkProj.Forward(normed)
		if err != nil {
			return nil, err
		}

		contrib, err := proj.Reshape([]int64{batch, gen.cfg.GlobalChannels, 1})
		if err != nil {
			return nil, err
		}

		if err := add(contrib); err != nil {
			return nil, err
		}
	}

	if gen.langEmb != nil {
		if int64(len(lids)) != batch {
			return nil, fmt.Errorf("svs: got %d language IDs for batch of %d", len(lids), batch)
		}

		rows := make([]*tensor.Tensor, 0, batch)
		for _, lid := range lids {
			row, err := gen.langEmb.Lookup(lid)
			if err != nil {
				return nil, err
			}

			rows = append(rows, row)
		}

		contrib, err := tensor.Concat(rows, 0)
		if err != nil {
			return nil, err
		}

		if err := add(contrib); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// expandPrior spreads score-position statistics over frames through a
// binary alignment path: attn [B,TFeat,TText] x stats [B,H,TText].
func expandPrior(attn, mP, logsP *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	expand := func(stats *tensor.Tensor) (*tensor.Tensor, error) {
		statsT, err := stats.Transpose(1, 2)
		if err != nil {
			return nil, err
		}

		out, err := tensor.MatMul(attn, statsT)
		if err != nil {
			return nil, err
		}

		return out.Transpose(1, 2)
	}

	m, err := expand(mP)
	if err != nil {
		return nil, nil, err
	}

	logs, err := expand(logsP)
	if err != nil {
		return nil, nil, err
	}

	return m, logs, nil
}

// sumOverFrames reduces a path [B,TFeat,TText] to per-position durations
// [B,1,TText].
func sumOverFrames(attn *tensor.Tensor) (*tensor.Tensor, error) {
	if attn == nil || attn.Rank() != 3 {
		return nil, fmt.Errorf("svs: sumOverFrames expects [B,TFeat,TText]")
	}

	shape := attn.Shape()
	b, tFeat, tText := shape[0], shape[1], shape[2]

	out, err := tensor.Zeros([]int64{b, 1, tText})
	if err != nil {
		return nil, err
	}

	ad := attn.RawData()
	od := out.RawData()

	for bi := range b {
		for t := range tFeat {
			base := (bi*tFeat + t) * tText
			for s := range tText {
				od[bi*tText+s] += ad[base+s]
			}
		}
	}

	return out, nil
}

// durationsFromLogScale maps sampled log-durations to whole frame counts:
// exp, stretch by alpha, mask, then ceil.
func durationsFromLogScale(logw, xMask *tensor.Tensor, alpha float32) (*tensor.Tensor, error) {
	w := expTensor(logw)
	w = scaleTensor(w, alpha)

	w, err := applyMask(w, xMask)
	if err != nil {
		return nil, err
	}

	d := w.RawData()
	for i, v := range d {
		d[i] = float32(math.Ceil(float64(v)))
	}

	return w, nil
}

// frameLengths sums durations [B,1,TText] per example, clamped to at least
// one frame so every score yields audio.
func frameLengths(w *tensor.Tensor) ([]int64, error) {
	if w == nil || w.Rank() != 3 || w.Shape()[1] != 1 {
		return nil, fmt.Errorf("svs: frameLengths expects durations [B,1,TText]")
	}

	shape := w.Shape()
	b, tText := shape[0], shape[2]

	d := w.RawData()

	out := make([]int64, b)
	for bi := range b {
		var sum float32
		for s := range tText {
			sum += d[bi*tText+s]
		}

		out[bi] = max(int64(sum), 1)
	}

	return out, nil
}

// normalizeRows L2-normalizes each row of a [B,D] matrix.
func normalizeRows(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || x.Rank() != 2 {
		return nil, fmt.Errorf("svs: normalizeRows expects [B,D]")
	}

	out := x.Clone()

	shape := out.Shape()
	b, dim := shape[0], shape[1]
	d := out.RawData()

	for bi := range b {
		row := d[bi*dim : (bi+1)*dim]

		var sq float64
		for _, v := range row {
			sq += float64(v) * float64(v)
		}

		norm := float32(math.Sqrt(sq))
		if norm == 0 {
			continue
		}

		for i := range row {
			row[i] /= norm
		}
	}

	return out, nil
}
