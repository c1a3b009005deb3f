package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	errNotImage      = errors.New("file must be an image")
	errTooManyPixels = errors.New("image dimensions too large")
)

// decodeImage sniffs data and decodes it when it is an image of at most
// maxPixels pixels. The header is checked before any pixel is allocated.
func decodeImage(data []byte, maxPixels int64) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w, got %s", errNotImage, mt.String())
	}
	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", mt.String(), err)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, fmt.Errorf("unable to decode %s: invalid dimensions %dx%d", mt.String(), hdr.Width, hdr.Height)
	}
	if int64(hdr.Width)*int64(hdr.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", errTooManyPixels, hdr.Width, hdr.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", mt.String(), err)
	}
	return img, nil
}

// decodeBase64Image accepts raw base64 or a data URL.
func decodeBase64Image(s string, maxPixels int64) (image.Image, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image: %w", err)
		}
	}
	img, err := decodeImage(data, maxPixels)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return img, nil
}
