package server

import (
	"path/filepath"

	"github.com/krau/signtagger/config"
	"github.com/krau/signtagger/onnx"
	"github.com/krau/signtagger/service"
)

// Init loads the labels and the ONNX model described by cfg. The returned
// closer releases the runtime sessions. Any failure is a
// *service.ModelLoadError and the caller must not serve traffic.
func Init(cfg config.Config) (*service.Pipeline, func(), error) {
	labelsPath := filepath.Join(cfg.ModelDir, cfg.LabelsFileName)
	labels, err := service.ReadLabels(labelsPath)
	if err != nil {
		return nil, nil, &service.ModelLoadError{Path: labelsPath, Err: err}
	}

	opts := service.Options{
		ImageSize: cfg.ImageSize,
		Layout:    cfg.Layout,
		Threshold: cfg.Threshold,
	}

	onnxPath := filepath.Join(cfg.ModelDir, cfg.ModelFileName)
	session, err := onnx.NewSession(onnxPath, onnx.SessionConfig{
		InputShape: opts.Shape(),
		InputName:  cfg.InputName,
		OutputName: cfg.OutputName,
		NumClasses: len(labels),
		PoolSize:   cfg.PoolSize,
	})
	if err != nil {
		return nil, nil, &service.ModelLoadError{Path: onnxPath, Err: err}
	}

	pipeline, err := service.NewPipeline(session, labels, opts)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return pipeline, session.Close, nil
}
