package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// EDLClips lists the main-track clips of s as EDL events. Record offsets are
// the clips' start times. Clips whose source cannot be resolved keep their
// source reference as media path.
func EDLClips(s timeline.Snapshot, sources rendergraph.SourceTable) []EDLClip {
	clips := s.Clips(timeline.TrackMain)
	out := make([]EDLClip, 0, len(clips))
	for _, c := range clips {
		path := c.SourceRef
		hasAudio := false
		if sources != nil {
			if src, ok := sources.Lookup(c.SourceRef); ok {
				path = src.Path
				hasAudio = src.HasAudio
			}
		}
		out = append(out, EDLClip{
			ClipName:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			MediaPath: path,
			SourceIn:  c.InTime,
			SourceOut: c.OutTime,
			RecordIn:  c.StartTime,
			HasAudio:  hasAudio && !c.Muted,
			Filter:    c.Filter,
		})
	}
	return out
}

// GenerateEDL renders clips as a CMX 3600 edit decision list.
func GenerateEDL(clips []EDLClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, clip := range clips {
		channels := "V"
		if clip.HasAudio {
			channels = "B"
		}
		recOut := clip.RecordIn + (clip.SourceOut - clip.SourceIn)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", channels,
				toTimecode(clip.SourceIn, fps), toTimecode(clip.SourceOut, fps),
				toTimecode(clip.RecordIn, fps), toTimecode(recOut, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)
		if clip.Filter != "" {
			lines = append(lines, fmt.Sprintf("* EFFECT:  %s", clip.Filter))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func toTimecode(seconds float64, fps int) string {
	totalFrames := int(math.Round(seconds * float64(fps)))
	if totalFrames < 0 {
		totalFrames = 0
	}
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, secs, frames)
}
