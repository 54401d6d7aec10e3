package model

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type SizeClass int

const (
	VerySmall SizeClass = iota
	Small
	Normal
	Large
	VeryLarge
)

// Lower bounds in pixels, inclusive.
const (
	SmallMinPixels     = 172_800
	NormalMinPixels    = 786_432
	LargeMinPixels     = 22_500_000
	VeryLargeMinPixels = 100_000_000
)

func (c SizeClass) String() string {
	switch c {
	case VerySmall:
		return "very_small"
	case Small:
		return "small"
	case Normal:
		return "normal"
	case Large:
		return "large"
	case VeryLarge:
		return "very_large"
	default:
		return fmt.Sprintf("size_class(%d)", int(c))
	}
}

func (c SizeClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ClassOf buckets an image by its pixel count.
func ClassOf(width, height int) SizeClass {
	pixels := int64(width) * int64(height)
	switch {
	case pixels >= VeryLargeMinPixels:
		return VeryLarge
	case pixels >= LargeMinPixels:
		return Large
	case pixels >= NormalMinPixels:
		return Normal
	case pixels >= SmallMinPixels:
		return Small
	default:
		return VerySmall
	}
}

// ClassificationError reports an image whose dimensions could not be read.
type ClassificationError struct {
	Path string
	Err  error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Path, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Classify reads only the image header at path.
func Classify(path string) (ImageTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageTask{}, &ClassificationError{Path: path, Err: err}
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return ImageTask{}, &ClassificationError{Path: path, Err: err}
	}
	return ImageTask{
		Path:   path,
		Class:  ClassOf(cfg.Width, cfg.Height),
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
