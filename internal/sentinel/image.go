package sentinel

import (
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
)

type ImageInfo struct {
	Width        int
	Height       int
	Bands        int
	GeoTransform [6]float64
	// ValidFraction is the share of first band pixels that are neither
	// zero, NaN nor nodata.
	ValidFraction float64
}

// InspectImage opens a downloaded GeoTIFF and checks it holds data. An
// image without a single valid pixel yields ErrImageNotFound.
func InspectImage(path string) (ImageInfo, error) {
	godal.RegisterAll()
	dataset, err := godal.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to open TIFF file: %w", err)
	}
	defer dataset.Close()

	structure := dataset.Structure()
	info := ImageInfo{Width: structure.SizeX, Height: structure.SizeY, Bands: structure.NBands}
	if gt, err := dataset.GeoTransform(); err == nil {
		info.GeoTransform = gt
	}
	if info.Bands == 0 {
		return info, fmt.Errorf("%w: %s has no bands", ErrImageNotFound, path)
	}

	band := dataset.Bands()[0]
	nodata, hasNodata := band.NoData()
	data := make([]float64, info.Width*info.Height)
	if err := band.Read(0, 0, data, info.Width, info.Height); err != nil {
		return info, fmt.Errorf("failed to read raster data: %w", err)
	}
	valid := 0
	for _, v := range data {
		if v == 0 || math.IsNaN(v) || (hasNodata && v == nodata) {
			continue
		}
		valid++
	}
	info.ValidFraction = float64(valid) / float64(len(data))
	if valid == 0 {
		return info, fmt.Errorf("%w: %s holds no valid pixels", ErrImageNotFound, path)
	}
	return info, nil
}

// PixelToLonLat returns the coordinates of the centre of pixel (x, y).
func PixelToLonLat(gt [6]float64, x, y int) (float64, float64) {
	lon := gt[0] + gt[1]*(float64(x)+0.5) + gt[2]*(float64(y)+0.5)
	lat := gt[3] + gt[4]*(float64(x)+0.5) + gt[5]*(float64(y)+0.5)
	return lon, lat
}

// LonLatToPixel is the inverse of PixelToLonLat for north-up images.
func LonLatToPixel(gt [6]float64, lon, lat float64) (int, int) {
	col := int(math.Floor((lon - gt[0]) / gt[1]))
	row := int(math.Floor((lat - gt[3]) / gt[5]))
	return col, row
}
