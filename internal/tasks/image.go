package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

var (
	ErrImageTooLarge   = errors.New("image exceeds maximum size")
	ErrImageUnreadable = errors.New("unsupported image format or corrupt image")
)

const jpegQuality = 85

// NormalizeImage decodes data, downsizes it to fit within maxDim on both sides and
// re-encodes it as JPEG. Inputs and outputs larger than maxBytes are rejected.
func NormalizeImage(data []byte, maxDim uint, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrImageTooLarge, len(data), maxBytes)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}

	bounds := img.Bounds()
	if maxDim > 0 && (uint(bounds.Dx()) > maxDim || uint(bounds.Dy()) > maxDim) {
		img = resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	if maxBytes > 0 && int64(buf.Len()) > maxBytes {
		return nil, fmt.Errorf("%w after re-encoding: %d > %d bytes", ErrImageTooLarge, buf.Len(), maxBytes)
	}
	return buf.Bytes(), nil
}
