package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 22

var iconOnce = sync.OnceValue(renderIcon)

func iconBytes() []byte {
	return iconOnce()
}

// renderIcon draws a film strip: a dark frame with sprocket holes along the
// top and bottom edges.
func renderIcon() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	strip := color.NRGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff}
	hole := color.NRGBA{}
	frame := color.NRGBA{R: 0xe8, G: 0x5d, B: 0x3f, A: 0xff}

	for y := 3; y < iconSize-3; y++ {
		for x := 1; x < iconSize-1; x++ {
			img.Set(x, y, strip)
		}
	}
	for x := 3; x < iconSize-3; x += 4 {
		for _, y := range []int{4, iconSize - 5} {
			img.Set(x, y, hole)
			img.Set(x+1, y, hole)
		}
	}
	for y := 7; y < iconSize-7; y++ {
		for x := 4; x < iconSize-4; x++ {
			img.Set(x, y, frame)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
