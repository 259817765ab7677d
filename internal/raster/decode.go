// Package raster handles georeferenced imagery and flux grids fetched from
// the solar data provider.
package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeImage decodes raster payload bytes with whatever registered codec
// matches. Providers serve PNG, JPEG, TIFF, BMP or WebP.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode failed: %w", err)
	}
	return img, format, nil
}
