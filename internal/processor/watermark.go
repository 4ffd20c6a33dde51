package processor

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/hyuraku/snapresize-ai/internal/models"
)

const watermarkPadding = 20

var (
	watermarkFontOnce sync.Once
	watermarkFont     *opentype.Font
)

func loadWatermarkFont() *opentype.Font {
	watermarkFontOnce.Do(func() {
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			// goregular.TTF is embedded and always parses; a failure here is
			// a build problem, not a runtime condition.
			panic(err)
		}
		watermarkFont = f
	})
	return watermarkFont
}

// drawWatermark stamps text onto the canvas at the configured anchor, drawing
// a dark stroke under a light fill for contrast on any background.
func drawWatermark(canvas *image.NRGBA, text string, position models.WatermarkPosition) error {
	width := canvas.Bounds().Dx()
	height := canvas.Bounds().Dy()

	size := width / 30
	if size < 16 {
		size = 16
	}

	face, err := opentype.NewFace(loadWatermarkFont(), &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}
	defer face.Close()

	textWidth := font.MeasureString(face, text).Ceil()
	textHeight := size

	var x, y int
	switch position {
	case models.WatermarkBottomRight:
		x = width - textWidth - watermarkPadding
		y = height - watermarkPadding
	case models.WatermarkBottomLeft:
		x = watermarkPadding
		y = height - watermarkPadding
	case models.WatermarkTopRight:
		x = width - textWidth - watermarkPadding
		y = textHeight + watermarkPadding
	case models.WatermarkTopLeft:
		x = watermarkPadding
		y = textHeight + watermarkPadding
	default:
		x = (width - textWidth) / 2
		y = height / 2
	}

	stroke := color.NRGBA{A: 128}
	fill := color.NRGBA{R: 255, G: 255, B: 255, A: 178}

	drawer := font.Drawer{Dst: canvas, Face: face}

	// Stroke pass: offset draws around the anchor.
	drawer.Src = image.NewUniform(stroke)
	for _, off := range [][2]int{{-2, 0}, {2, 0}, {0, -2}, {0, 2}, {-1, -1}, {1, -1}, {-1, 1}, {1, 1}} {
		drawer.Dot = fixed.P(x+off[0], y+off[1])
		drawer.DrawString(text)
	}

	drawer.Src = image.NewUniform(fill)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
	return nil
}
