package model

var policies = map[SizeClass][]Pass{
	VerySmall: nil,
	Small: {
		{Magnification: 1, BatchSize: 6, SplitSize: 128},
		{Magnification: 2, BatchSize: 6, SplitSize: 128},
	},
	Normal: {
		{Magnification: 1, BatchSize: 6, SplitSize: 256},
		{Magnification: 2, BatchSize: 6, SplitSize: 256},
	},
	Large: {
		{Magnification: 1, BatchSize: 4, SplitSize: 256},
		{Magnification: 2, BatchSize: 4, SplitSize: 256},
	},
	VeryLarge: {
		{Magnification: 1, BatchSize: 2, SplitSize: 256},
	},
}

// PolicyFor returns a copy of the passes for class. An empty result means
// the image is not upscaled at all.
func PolicyFor(class SizeClass) []Pass {
	passes := policies[class]
	if len(passes) == 0 {
		return nil
	}
	out := make([]Pass, len(passes))
	copy(out, passes)
	return out
}
