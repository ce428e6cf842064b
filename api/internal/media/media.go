// Package media prepares uploaded photos for the analysis pipeline:
// EXIF orientation is applied and the image is re-encoded as baseline JPEG
// so every backend receives the same normalized payload.
package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	// imaging registers jpeg/png/gif/tiff/bmp only; WEBP passes the type
	// gate, so its decoder must be registered here.
	_ "golang.org/x/image/webp"

	"mari-ask/api/internal/util"
)

// MaxUploadBytes bounds one uploaded photo.
const MaxUploadBytes = 10 << 20

const jpegQuality = 85

// NormalizeJPEG decodes the uploaded image (honoring EXIF orientation),
// and re-encodes it as JPEG. A non-decodable payload is a caller error.
func NormalizeJPEG(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	if mime := util.SniffMimeHTTP(b); !util.IsSupportedImage(mime) {
		return nil, fmt.Errorf("unsupported image type: %s", mime)
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}
