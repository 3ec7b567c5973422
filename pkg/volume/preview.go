package volume

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
)

func grayOf(v uint8) color.Gray { return color.Gray{Y: v} }

// ExtractFrame returns one display-stack frame as a grayscale image for 2D
// preview.
func (v *Volume) ExtractFrame(z int) (image.Image, error) {
	if z < 0 || z >= v.Depth {
		return nil, fmt.Errorf("volume: frame %d outside stack depth %d", z, v.Depth)
	}
	img := image.NewGray(image.Rect(0, 0, v.Width, v.Height))
	frame := v.Display[z]
	for y := 0; y < v.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+v.Width], frame[y*v.Width:(y+1)*v.Width])
	}
	return img, nil
}

// ExtractSection resamples the scalar field along the x or y axis, mapping
// the global [Min, Max] range onto 8 bits. The z axis is served by the
// display stack, which carries the per-slice windowing.
func (v *Volume) ExtractSection(axis string, position int) (image.Image, error) {
	span := float64(v.Max - v.Min)
	if span <= 0 {
		span = 1
	}
	sample := func(x, y, z int) uint8 {
		t := (float64(v.At(x, y, z)) - float64(v.Min)) / span * 255
		if t < 0 {
			t = 0
		} else if t > 255 {
			t = 255
		}
		return uint8(t)
	}

	switch axis {
	case "x", "X":
		if position < 0 || position >= v.Width {
			return nil, fmt.Errorf("volume: position %d exceeds width %d", position, v.Width)
		}
		img := image.NewGray(image.Rect(0, 0, v.Depth, v.Height))
		for y := 0; y < v.Height; y++ {
			for z := 0; z < v.Depth; z++ {
				img.SetGray(z, y, grayOf(sample(position, y, z)))
			}
		}
		return img, nil
	case "y", "Y":
		if position < 0 || position >= v.Height {
			return nil, fmt.Errorf("volume: position %d exceeds height %d", position, v.Height)
		}
		img := image.NewGray(image.Rect(0, 0, v.Width, v.Depth))
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Width; x++ {
				img.SetGray(x, z, grayOf(sample(x, position, z)))
			}
		}
		return img, nil
	case "z", "Z":
		return v.ExtractFrame(position)
	default:
		return nil, fmt.Errorf("volume: invalid axis %q (must be x, y, or z)", axis)
	}
}

// SaveDisplayStack writes every display frame as a numbered JPEG into
// outputDir.
func (v *Volume) SaveDisplayStack(outputDir string, quality int) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for z := 0; z < v.Depth; z++ {
		img, err := v.ExtractFrame(z)
		if err != nil {
			return err
		}
		name := filepath.Join(outputDir, fmt.Sprintf("slice_%03d.jpg", z))
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
