package astrortsp

import (
	"fmt"
	"image"
	"image/draw"
)

// BoundingBox returns the smallest rectangle containing every point.
func BoundingBox(points ...image.Point) image.Rectangle {
	if len(points) == 0 {
		return image.Rectangle{}
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y

	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	return image.Rect(minX, minY, maxX, maxY)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// CropFrame returns the part of img inside region. An empty region keeps the
// whole frame; a region that misses the frame entirely is an error.
func CropFrame(img image.Image, region image.Rectangle) (image.Image, error) {
	if region.Empty() {
		return img, nil
	}

	area := region.Intersect(img.Bounds())
	if area.Empty() {
		return nil, fmt.Errorf("%w: region %v outside frame %v", ErrEncodingFailed, region, img.Bounds())
	}

	if sub, ok := img.(subImager); ok {
		return sub.SubImage(area), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, area.Dx(), area.Dy()))
	draw.Draw(dst, dst.Bounds(), img, area.Min, draw.Src)
	return dst, nil
}
