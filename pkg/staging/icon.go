package staging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// IconSizes returns the launcher icon edge lengths in pixels per density
func IconSizes() map[string]int {
	return map[string]int{
		"xhdpi": 96,
		"hdpi":  72,
		"mdpi":  48,
		"ldpi":  36,
	}
}

var iconColor = color.NRGBA{R: 0x3d, G: 0x85, B: 0xc6, A: 0xff}

// DefaultIcon renders the placeholder launcher icon: a filled disc on a
// transparent square of the given size.
func DefaultIcon(size int) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	r := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - r
			dy := float64(y) + 0.5 - r
			if dx*dx+dy*dy <= r*r {
				img.SetNRGBA(x, y, iconColor)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
