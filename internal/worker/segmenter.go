package worker

import (
	"context"
	"errors"
	"math"

	"github.com/hyuraku/snapresize-ai/internal/models"
)

// Segmenter is the black-box segmentation model hosted by the worker. Init
// receives the raw model bytes and the selected compute device; Segment
// returns a 2D foreground-confidence map no larger than the input resolution,
// values in [0, 1], indexed [y][x].
type Segmenter interface {
	Init(ctx context.Context, model []byte, device models.Backend) error
	Segment(ctx context.Context, pix []byte, width, height int) ([][]float32, error)
}

// maxMapSide caps the confidence-map resolution, matching the working size of
// common portrait-matting models.
const maxMapSide = 320

var errEmptyModel = errors.New("segmenter: empty model data")

// BorderContrastSegmenter is a model-free Segmenter: it estimates the
// background color from the image border and scores each cell by its color
// distance from it. Real inference runtimes plug in behind the same
// interface; this implementation keeps the pipeline functional without one.
type BorderContrastSegmenter struct{}

func NewBorderContrastSegmenter() *BorderContrastSegmenter {
	return &BorderContrastSegmenter{}
}

func (s *BorderContrastSegmenter) Init(_ context.Context, model []byte, _ models.Backend) error {
	if len(model) == 0 {
		return errEmptyModel
	}
	return nil
}

func (s *BorderContrastSegmenter) Segment(ctx context.Context, pix []byte, width, height int) ([][]float32, error) {
	if len(pix) != width*height*4 {
		return nil, errors.New("segmenter: pixel buffer length does not match dimensions")
	}

	bgR, bgG, bgB := borderAverage(pix, width, height)

	mapW := width
	if mapW > maxMapSide {
		mapW = maxMapSide
	}
	mapH := height
	if mapH > maxMapSide {
		mapH = maxMapSide
	}

	// Maximum RGB distance, used to normalize scores.
	const maxDist = 441.673

	mask := make([][]float32, mapH)
	for my := 0; my < mapH; my++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make([]float32, mapW)
		y := my * height / mapH
		for mx := 0; mx < mapW; mx++ {
			x := mx * width / mapW
			i := (y*width + x) * 4
			dr := float64(pix[i]) - bgR
			dg := float64(pix[i+1]) - bgG
			db := float64(pix[i+2]) - bgB
			dist := math.Sqrt(dr*dr + dg*dg + db*db)

			// Scores saturate well below the theoretical maximum so that
			// clearly distinct subjects come out fully opaque.
			c := dist / maxDist * 3
			if c > 1 {
				c = 1
			}
			row[mx] = float32(c)
		}
		mask[my] = row
	}
	return mask, nil
}

func borderAverage(pix []byte, width, height int) (r, g, b float64) {
	var sumR, sumG, sumB, count float64
	sample := func(x, y int) {
		i := (y*width + x) * 4
		sumR += float64(pix[i])
		sumG += float64(pix[i+1])
		sumB += float64(pix[i+2])
		count++
	}
	for x := 0; x < width; x++ {
		sample(x, 0)
		sample(x, height-1)
	}
	for y := 1; y < height-1; y++ {
		sample(0, y)
		sample(width-1, y)
	}
	if count == 0 {
		return 0, 0, 0
	}
	return sumR / count, sumG / count, sumB / count
}
