package rendergraph

import (
	"strings"
	"testing"

	"github.com/cutroom/cutroom-agent/internal/timeline"
)

func TestFFmpegSingleClip(t *testing.T) {
	clip := mainClip("c1", "a", 1.5, 4, 0)
	clip.Filter = timeline.FilterGrayscale
	clip.Muted = true
	g := compile(t, nil, []timeline.Clip{clip}, Options{Resolution: Resolution720p})

	inv, err := g.FFmpeg()
	if err != nil {
		t.Fatalf("FFmpeg: %v", err)
	}
	want := "[0:v]trim=start=1.5:end=4,setpts=PTS-STARTPTS,hue=s=0[v0];" +
		"[0:a]atrim=start=1.5:end=4,asetpts=PTS-STARTPTS,volume=0[a0];" +
		"[v0]scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2,setsar=1,format=yuv420p[outv]"
	if inv.FilterComplex != want {
		t.Errorf("filter_complex:\n got %s\nwant %s", inv.FilterComplex, want)
	}
	if inv.VideoMap != "[outv]" || inv.AudioMap != "[a0]" {
		t.Errorf("maps = %s %s", inv.VideoMap, inv.AudioMap)
	}

	args := strings.Join(inv.Args(), " ")
	if !strings.HasPrefix(args, "-i /media/a.mp4 -filter_complex ") {
		t.Errorf("args = %s", args)
	}
	if !strings.HasSuffix(args, "-map [outv] -map [a0] -t 2.5") {
		t.Errorf("args = %s", args)
	}
}

func TestFFmpegOverlaysAndPIP(t *testing.T) {
	clip := mainClip("c1", "a", 0, 5, 0)
	clip.Overlays = []timeline.Overlay{{
		ID: "o1", ImageRef: "logo.png", Opacity: 0.5,
		Position: timeline.Position{X: 10, Y: 5},
		Size:     timeline.Size{Width: 20, Height: 10},
	}}
	pip := timeline.Clip{ID: "p1", SourceRef: "pip1", OutTime: 3, Track: timeline.TrackOverlay}
	g := compile(t, nil, []timeline.Clip{clip, pip}, DefaultOptions())

	inv, err := g.FFmpeg()
	if err != nil {
		t.Fatalf("FFmpeg: %v", err)
	}
	if len(inv.Inputs) != 3 || !inv.Inputs[1].Still || inv.Inputs[2].Path != "/media/pip1.mp4" {
		t.Fatalf("inputs = %+v", inv.Inputs)
	}

	for _, fragment := range []string{
		"[1:v]format=rgba,colorchannelmixer=aa=0.5[s",
		"scale2ref=w=main_w*0.2:h=main_h*0.1[ov0_0][ref0_0]",
		"[ref0_0][ov0_0]overlay=x=main_w*0.1:y=main_h*0.05:shortest=1[v0_o0]",
		"[2:v]trim=start=0:end=3,setpts=PTS-STARTPTS[pv0]",
		"[pv0][v0_o0]scale2ref=w=main_w*0.3:h=main_h*0.3[pip][pipref]",
		"[pipref][pip]overlay=x=main_w*0.65:y=main_h*0.65:eof_action=pass[composited]",
		"[composited]scale=1920:1080",
	} {
		if !strings.Contains(inv.FilterComplex, fragment) {
			t.Errorf("filter_complex missing %q\n%s", fragment, inv.FilterComplex)
		}
	}

	args := inv.Args()
	if args[0] != "-i" || args[2] != "-loop" || args[3] != "1" {
		t.Errorf("still image should be looped: %v", args[:6])
	}
}
