package processor

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/hyuraku/snapresize-ai/internal/models"
)

func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// rgbaPixels flattens an image into a tightly packed RGBA byte buffer.
func rgbaPixels(img image.Image) (pix []byte, width, height int) {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	width, height = b.Dx(), b.Dy()

	if nrgba.Stride == width*4 {
		return nrgba.Pix, width, height
	}

	pix = make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		copy(pix[y*width*4:(y+1)*width*4], nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+width*4])
	}
	return pix, width, height
}

// maskedImage rebuilds an image from a worker mask result buffer.
func maskedImage(mask *maskBuffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, mask.width, mask.height))
	copy(img.Pix, mask.pix)
	return img
}

type maskBuffer struct {
	width  int
	height int
	pix    []byte
}

// coverFit scales src to fully cover width x height, preserving aspect ratio
// and center-cropping the overflow.
func coverFit(src image.Image, width, height int) *image.NRGBA {
	return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
}

// encodeOutput serializes the canvas: PNG when background removal was applied
// (preserves transparency), otherwise JPEG at the configured quality.
func encodeOutput(canvas image.Image, backgroundRemoved bool, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if backgroundRemoved {
		if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), nil
	}
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// outputName replaces the original extension with _{presetKey}.{png|jpg}.
func outputName(original string, preset models.PresetKey, backgroundRemoved bool) string {
	ext := "jpg"
	if backgroundRemoved {
		ext = "png"
	}
	base := original
	for i := len(original) - 1; i >= 0; i-- {
		if original[i] == '.' {
			base = original[:i]
			break
		}
		if original[i] == '/' || original[i] == '\\' {
			break
		}
	}
	return fmt.Sprintf("%s_%s.%s", base, preset, ext)
}
