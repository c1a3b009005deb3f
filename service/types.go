package service

import (
	"github.com/krau/signtagger/config"
)

const (
	WordNotLoaded = "MODEL_NOT_LOADED"
	WordUncertain = "UNCERTAIN"
	WordError     = "ERROR"
)

// Tensor is a dense float32 tensor. Shape includes the batch dimension.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Model runs a single-example forward pass and returns one score per class.
type Model interface {
	Forward(in Tensor) ([]float32, error)
}

type Options struct {
	ImageSize int
	Layout    string
	Threshold float32
}

func DefaultOptions() Options {
	c := config.Default()
	return Options{
		ImageSize: c.ImageSize,
		Layout:    c.Layout,
		Threshold: c.Threshold,
	}
}

// Shape is the input tensor shape for opts, batch dimension first.
func (o Options) Shape() []int64 {
	s := int64(o.ImageSize)
	if o.Layout == config.LayoutNCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}

type Result struct {
	PredictedWord string    `json:"predicted_word"`
	Confidence    float32   `json:"confidence"`
	Scores        []float32 `json:"all_predictions,omitempty"`
	Error         string    `json:"error,omitempty"`
}

func (r Result) Failed() bool {
	return r.Error != ""
}
