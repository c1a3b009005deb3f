package service

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
)

// Pipeline classifies images with a loaded model. It is immutable after
// NewPipeline and safe for concurrent use.
type Pipeline struct {
	model  Model
	labels []string
	opts   Options
}

func NewPipeline(model Model, labels []string, opts Options) (*Pipeline, error) {
	if model == nil {
		return nil, &ModelLoadError{Err: errors.New("nil model")}
	}
	if labels == nil {
		return nil, &ModelLoadError{Err: errors.New("nil labels")}
	}
	if opts.ImageSize < 1 {
		return nil, &ModelLoadError{Err: fmt.Errorf("invalid image size %d", opts.ImageSize)}
	}
	l := make([]string, len(labels))
	copy(l, labels)
	return &Pipeline{model: model, labels: l, opts: opts}, nil
}

func (p *Pipeline) IsReady() bool {
	return p != nil && p.model != nil && p.labels != nil
}

func (p *Pipeline) Labels() []string {
	if p == nil {
		return []string{}
	}
	l := make([]string, len(p.labels))
	copy(l, p.labels)
	return l
}

func (p *Pipeline) Options() Options {
	if p == nil {
		return DefaultOptions()
	}
	return p.opts
}

func (p *Pipeline) Preprocess(img image.Image) (Tensor, error) {
	return Preprocess(img, p.Options())
}

// Classify returns the most likely label for img. Per-image failures are
// reported in Result.Error; the returned error is only set when the model
// predicts a class the label file does not cover.
func (p *Pipeline) Classify(img image.Image) (res Result, err error) {
	if !p.IsReady() {
		return failed(WordNotLoaded, &NotReadyError{}), nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Classification panicked", slog.Any("panic", r))
			res, err = failed(WordError, fmt.Errorf("runtime panic: %v", r)), nil
		}
	}()

	input, err := Preprocess(img, p.opts)
	if err != nil {
		return failed(WordError, err), nil
	}

	scores, err := p.model.Forward(input)
	if err != nil {
		return failed(WordError, fmt.Errorf("inference failed: %w", err)), nil
	}
	if len(scores) == 0 {
		return failed(WordError, errors.New("inference failed: empty output")), nil
	}

	idx := argmax(scores)
	confidence := scores[idx]
	if math.IsNaN(float64(confidence)) {
		return failed(WordError, errors.New("inference failed: non-numeric score")), nil
	}
	if idx >= len(p.labels) {
		return Result{}, &LabelIndexError{Index: idx, Labels: len(p.labels)}
	}

	word := p.labels[idx]
	if confidence < p.opts.Threshold {
		word = WordUncertain
	}

	out := make([]float32, len(scores))
	copy(out, scores)
	return Result{
		PredictedWord: word,
		Confidence:    confidence,
		Scores:        out,
	}, nil
}

func failed(word string, err error) Result {
	return Result{PredictedWord: word, Confidence: 0, Error: err.Error()}
}

// argmax keeps the first index on ties.
func argmax(v []float32) int {
	maxIdx := 0
	maxVal := v[0]
	for i, val := range v {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx
}
