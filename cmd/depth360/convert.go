package main

import (
	"image"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/depth360/config"
	"go.viam.com/depth360/cubemap"
	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/spherical"
)

// convertPanorama writes <face>.png for each cube face of the panorama at in, the panorama
// rebuilt from those faces as equirectangular.png and the face layout as facemap.png. It returns
// the largest difference between the panorama and its rebuilt copy.
func convertPanorama(in, outDir string, cfg *config.Config) (float64, error) {
	if err := cfg.Validate(""); err != nil {
		return 0, err
	}
	img, err := rimage.ReadImageFromFile(in)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return 0, err
	}
	pano := rimage.ImageToTensor(img, cfg.Height, cfg.Width)

	faces, err := cubemap.EquirectangularToCubic(pano, cfg.FaceSize)
	if err != nil {
		return 0, err
	}
	for _, face := range spherical.Faces {
		faceImg, err := rimage.TensorToImage(faces[face], 0)
		if err != nil {
			return 0, err
		}
		if err := rimage.WriteImageToFile(filepath.Join(outDir, face.String()+".png"), faceImg); err != nil {
			return 0, errors.Wrapf(err, "writing face %v", face)
		}
	}

	rebuilt, err := cubemap.CubicToEquirectangular(faces, cfg.Height, cfg.Width)
	if err != nil {
		return 0, err
	}
	rebuiltImg, err := rimage.TensorToImage(rebuilt, 0)
	if err != nil {
		return 0, err
	}
	if err := rimage.WriteImageToFile(filepath.Join(outDir, "equirectangular.png"), rebuiltImg); err != nil {
		return 0, err
	}
	if err := rimage.WriteImageToFile(filepath.Join(outDir, "facemap.png"), faceMapImage(cfg.Height, cfg.Width, cfg.FaceSize)); err != nil {
		return 0, err
	}
	return pano.MaxAbsDiff(rebuilt)
}

// faceMapImage paints every panorama pixel with the hue of the face it is read from.
func faceMapImage(h, w, faceSize int) image.Image {
	var palette [spherical.NumFaces]colorful.Color
	for i := range palette {
		palette[i] = colorful.Hsv(60*float64(i), 0.6, 0.9)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y, row := range cubemap.FaceMap(h, w, faceSize) {
		for x, face := range row {
			img.Set(x, y, palette[face])
		}
	}
	return img
}
