// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package imgcodec converts between encoded image bytes and image.Image values
// for the asset cache. It decodes JPEG, PNG, GIF and WebP, and encodes JPEG or
// PNG.
package imgcodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"io"
	"math"

	_ "golang.org/x/image/webp" // register WebP decoder
)

// Format is the encoding of a saved image.
type Format uint8

const (
	// JPEG encodes with a lossy quality. It is the zero value.
	JPEG Format = iota

	// PNG encodes losslessly. Quality is ignored.
	PNG
)

// String returns the name of the format as reported by image.Decode.
func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// ParseFormat returns the format with the given name.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// DefaultQuality is the JPEG quality used when Options is nil.
const DefaultQuality = 0.9

// ErrUnsupportedFormat is the error thrown when the format is unknown.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ErrInvalidQuality is the error thrown when the quality is out of the range
// from 0.0 to 1.0.
var ErrInvalidQuality = errors.New("invalid quality")

// Options represents the parameters to encode an image.
type Options struct {
	Format  Format
	Quality float64 // 0.0 to 1.0, only for JPEG.
}

// Encode writes the image to w. A nil opts means JPEG at DefaultQuality.
func Encode(w io.Writer, img image.Image, opts *Options) error {
	if opts == nil {
		opts = &Options{Format: JPEG, Quality: DefaultQuality}
	}

	switch opts.Format {
	case JPEG:
		if math.IsNaN(opts.Quality) || opts.Quality < 0 || 1 < opts.Quality {
			return fmt.Errorf("%w: %v", ErrInvalidQuality, opts.Quality)
		}
		q := int(math.Round(opts.Quality * 100))
		if q < 1 {
			q = 1
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: q}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}

	case PNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}

	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, opts.Format)
	}

	return nil
}

// EncodeBytes returns the encoded image.
func EncodeBytes(img image.Image, opts *Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decodes the image and returns it with the format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeConfig returns the dimensions and the format name of the image
// without decoding the whole image.
func DecodeConfig(data []byte) (image.Config, string, error) {
	conf, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("failed to decode image config: %w", err)
	}
	return conf, format, nil
}
