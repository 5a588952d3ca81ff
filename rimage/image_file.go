package rimage

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	_ "github.com/xfmoulet/qoi" // register qoi
	"go.uber.org/multierr"

	"go.viam.com/depth360/utils"
)

// ReadImageFromFile decodes any registered image format from disk.
func ReadImageFromFile(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read image %q", path)
	}
	return img, nil
}

// WriteImageToFile encodes img by the file extension. ".ppm" is written as binary PPM from an RGBA
// copy of img; everything else goes through imaging (jpg, png, gif, tif, bmp).
func WriteImageToFile(path string, img image.Image) (err error) {
	if strings.ToLower(filepath.Ext(path)) != ".ppm" {
		return imaging.Save(img, path)
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ppm.Encode(f, toRGBA(img))
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// ImageToTensor resizes img to h by w when needed and converts it to a single sample, three
// channel tensor with values in [0, 1].
func ImageToTensor(img image.Image, h, w int) *Tensor {
	bounds := img.Bounds()
	if bounds.Dx() != w || bounds.Dy() != h {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
		bounds = img.Bounds()
	}
	out := NewTensor(Shape{1, h, w, 3})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(0, y, x, 0, float64(r)/0xffff)
			out.Set(0, y, x, 1, float64(g)/0xffff)
			out.Set(0, y, x, 2, float64(b)/0xffff)
		}
	}
	return out
}

func to8(v float64) uint8 {
	return uint8(utils.ClampF64(v, 0, 1)*255 + 0.5)
}

// TensorToImage renders batch n of a one or three channel tensor with values in [0, 1].
func TensorToImage(t *Tensor, n int) (image.Image, error) {
	rect := image.Rect(0, 0, t.Width(), t.Height())
	switch t.Channels() {
	case 1:
		img := image.NewGray(rect)
		for y := 0; y < t.Height(); y++ {
			for x := 0; x < t.Width(); x++ {
				img.SetGray(x, y, color.Gray{to8(t.At(n, y, x, 0))})
			}
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(rect)
		for y := 0; y < t.Height(); y++ {
			for x := 0; x < t.Width(); x++ {
				img.SetNRGBA(x, y, color.NRGBA{to8(t.At(n, y, x, 0)), to8(t.At(n, y, x, 1)), to8(t.At(n, y, x, 2)), 255})
			}
		}
		return img, nil
	default:
		return nil, utils.NewShapeMismatchError("image channels", "1 or 3", t.Channels())
	}
}

// DepthRange returns the low and high nearest rank percentiles of channel 0 of batch n, skipping
// non finite values. It is used to normalize depth for display.
func DepthRange(t *Tensor, n int, lowPercent, highPercent float64) (float64, float64, error) {
	values := make(stats.Float64Data, 0, t.Height()*t.Width())
	for y := 0; y < t.Height(); y++ {
		for x := 0; x < t.Width(); x++ {
			if v := t.At(n, y, x, 0); utils.IsFinite(v) {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return 0, 0, errors.New("no finite depth values")
	}
	low, err := stats.PercentileNearestRank(values, lowPercent)
	if err != nil {
		return 0, 0, err
	}
	high, err := stats.PercentileNearestRank(values, highPercent)
	if err != nil {
		return 0, 0, err
	}
	return low, high, nil
}

// PrettyDepth colour maps channel 0 of batch n from warm (near) to cool (far) after clamping to
// the 2nd..98th percentile range.
func PrettyDepth(t *Tensor, n int) (image.Image, error) {
	low, high, err := DepthRange(t, n, 2, 98)
	if err != nil {
		return nil, err
	}
	span := high - low
	img := image.NewNRGBA(image.Rect(0, 0, t.Width(), t.Height()))
	for y := 0; y < t.Height(); y++ {
		for x := 0; x < t.Width(); x++ {
			v := t.At(n, y, x, 0)
			if !utils.IsFinite(v) {
				img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
				continue
			}
			ratio := 0.
			if span > 0 {
				ratio = utils.ClampF64((v-low)/span, 0, 1)
			}
			r, g, b := colorful.Hcl(30+230*ratio, 0.6, 0.85-0.5*ratio).Clamped().RGB255()
			img.SetNRGBA(x, y, color.NRGBA{r, g, b, 255})
		}
	}
	return img, nil
}
