package rendergraph

import "github.com/cutroom/cutroom-agent/internal/timeline"

// filterChains maps timeline filter names to ffmpeg video filter chains.
var filterChains = map[string]string{
	timeline.FilterGrayscale: "hue=s=0",
	timeline.FilterSepia:     "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131",
	timeline.FilterInvert:    "negate",
	timeline.FilterBlur:      "boxblur=5:1",
	timeline.FilterSharpen:   "unsharp=5:5:1.0:5:5:0.0",
	timeline.FilterVintage:   "curves=preset=vintage",
	timeline.FilterWarm:      "colorbalance=rs=0.1:gs=0.02:bs=-0.1",
	timeline.FilterCool:      "colorbalance=rs=-0.1:gs=0.02:bs=0.1",
	timeline.FilterBright:    "eq=brightness=0.08",
	timeline.FilterContrast:  "eq=contrast=1.3",
	timeline.FilterSaturate:  "eq=saturation=1.6",
}

// FilterChain returns the ffmpeg chain for a filter name.
func FilterChain(name string) (string, bool) {
	chain, ok := filterChains[name]
	return chain, ok
}
