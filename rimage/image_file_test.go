package rimage

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestImageTensorRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			src.SetNRGBA(x, y, color.NRGBA{uint8(x * 30), uint8(y * 60), 128, 255})
		}
	}
	tt := ImageToTensor(src, 4, 8)
	test.That(t, tt.Shape(), test.ShouldResemble, Shape{1, 4, 8, 3})
	test.That(t, tt.At(0, 1, 2, 0), test.ShouldAlmostEqual, 60./255)
	test.That(t, tt.At(0, 1, 2, 1), test.ShouldAlmostEqual, 60./255)
	test.That(t, tt.At(0, 3, 7, 2), test.ShouldAlmostEqual, 128./255)

	back, err := TensorToImage(tt, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.At(5, 2), test.ShouldResemble, src.At(5, 2))

	resized := ImageToTensor(src, 2, 4)
	test.That(t, resized.Shape(), test.ShouldResemble, Shape{1, 2, 4, 3})

	gray, err := TensorToImage(tt.Channel(2), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gray.At(0, 0), test.ShouldResemble, color.Gray{128})

	_, err = TensorToImage(NewTensor(Shape{1, 2, 2, 2}), 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImageFiles(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 6, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 6; x++ {
			src.SetNRGBA(x, y, color.NRGBA{uint8(40 * x), 10, uint8(80 * y), 255})
		}
	}
	dir := t.TempDir()
	for _, name := range []string{"img.png", "img.ppm"} {
		path := filepath.Join(dir, name)
		test.That(t, WriteImageToFile(path, src), test.ShouldBeNil)
		read, err := ReadImageFromFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Bounds(), test.ShouldResemble, src.Bounds())
		r, g, b, _ := read.At(4, 2).RGBA()
		test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{160, 10, 160})
	}

	depthPicture, err := PrettyDepth(NewTensorFilled(Shape{1, 2, 4, 1}, 2), 0)
	test.That(t, err, test.ShouldBeNil)
	gray, err := TensorToImage(NewTensorFilled(Shape{1, 2, 4, 1}, 0.5), 0)
	test.That(t, err, test.ShouldBeNil)
	for name, img := range map[string]image.Image{"depth.ppm": depthPicture, "gray.ppm": gray} {
		path := filepath.Join(dir, name)
		test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)
		read, err := ReadImageFromFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 2))
		wr, wg, wb, _ := img.At(1, 1).RGBA()
		r, g, b, _ := read.At(1, 1).RGBA()
		test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{wr >> 8, wg >> 8, wb >> 8})
	}

	_, err = ReadImageFromFile(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPrettyDepth(t *testing.T) {
	depth := NewTensor(Shape{1, 4, 8, 1})
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			depth.Set(0, y, x, 0, 1+float64(x))
		}
	}
	depth.Set(0, 0, 0, 0, math.Inf(1))

	low, high, err := DepthRange(depth, 0, 0, 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, low, test.ShouldEqual, 1.)
	test.That(t, high, test.ShouldEqual, 8.)

	img, err := PrettyDepth(depth, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 8)
	test.That(t, img.At(0, 0), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
	test.That(t, img.At(1, 1), test.ShouldNotResemble, img.At(7, 1))

	_, err = PrettyDepth(NewTensorFilled(Shape{1, 1, 1, 1}, math.NaN()), 0)
	test.That(t, err, test.ShouldNotBeNil)
}
