package models

// ResolutionPresets maps friendly resolution names to pixel dimensions for
// generation parameters. Presets above full HD are capped at 1920x1080 since
// larger sizes are not supported by every provider.
var ResolutionPresets = map[string]struct {
	Width  int
	Height int
}{
	"square_small": {512, 512},
	"square":       {1024, 1024},
	"square_hd":    {1536, 1536},

	"portrait":      {768, 1344},
	"portrait_tall": {640, 1536},

	"landscape":      {1344, 768},
	"landscape_wide": {1536, 640},

	"hd":      {1280, 720},
	"full_hd": {1920, 1080},
	"2k":      {1920, 1080},
	"4k":      {1920, 1080},
}
