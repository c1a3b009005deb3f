package service

import "fmt"

// ModelLoadError means the service must not start.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("model load failed: %v", e.Err)
	}
	return fmt.Sprintf("model load failed for %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

type NotReadyError struct{}

func (e *NotReadyError) Error() string { return "model is not loaded" }

// LabelIndexError is returned when the model predicts a class that has no
// label, i.e. the label file does not match the model.
type LabelIndexError struct {
	Index  int
	Labels int
}

func (e *LabelIndexError) Error() string {
	return fmt.Sprintf("predicted index %d out of range for %d labels", e.Index, e.Labels)
}

type PreprocessError struct {
	Err error
}

func (e *PreprocessError) Error() string {
	return fmt.Sprintf("preprocess failed: %v", e.Err)
}

func (e *PreprocessError) Unwrap() error { return e.Err }
