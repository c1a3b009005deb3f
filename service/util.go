package service

import (
	"errors"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/krau/signtagger/config"
)

// ReadLabels loads one label per line. Trailing whitespace is stripped and
// blank lines are kept so that line i always names output class i.
func ReadLabels(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimPrefix(string(b), "\ufeff")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	labels := make([]string, 0, len(lines))
	for _, l := range lines {
		labels = append(labels, strings.TrimRight(l, " \t\r\v\f"))
	}
	return labels, nil
}

// Preprocess resizes img to the model input size and scales every channel
// to [0,1].
func Preprocess(img image.Image, opts Options) (Tensor, error) {
	if img == nil {
		return Tensor{}, &PreprocessError{Err: errors.New("nil image")}
	}
	if img.Bounds().Empty() {
		return Tensor{}, &PreprocessError{Err: errors.New("empty image")}
	}
	if opts.ImageSize < 1 {
		return Tensor{}, &PreprocessError{Err: errors.New("invalid target size")}
	}

	size := opts.ImageSize
	resized := imaging.Resize(img, size, size, imaging.Linear)

	plane := size * size
	out := make([]float32, 3*plane)
	nchw := opts.Layout == config.LayoutNCHW

	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			p := row[x*4 : x*4+3]
			fr := float32(p[0]) / 255.0
			fg := float32(p[1]) / 255.0
			fb := float32(p[2]) / 255.0

			idx := y*size + x
			if nchw {
				out[idx] = fr
				out[plane+idx] = fg
				out[2*plane+idx] = fb
			} else {
				out[idx*3] = fr
				out[idx*3+1] = fg
				out[idx*3+2] = fb
			}
		}
	}
	return Tensor{Shape: opts.Shape(), Data: out}, nil
}
