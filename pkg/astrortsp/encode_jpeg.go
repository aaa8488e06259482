package astrortsp

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultQuality is the JPEG quality used for snapshots.
const DefaultQuality = 90

// EncodeFunc converts a decoded frame into JPEG bytes.
type EncodeFunc func(img image.Image, quality int) ([]byte, error)

// EncodeJPEG encodes one frame at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrEncodingFailed)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrEncodingFailed)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return buf.Bytes(), nil
}
