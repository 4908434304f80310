package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte span.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats r for the Content-Range header.
func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange reads the first span of a Range header against a file of size
// bytes. ok is false when the header is empty. An invalid header is reported
// as ErrInvalidRange and callers serve the whole file.
func ParseRange(header string, size int64) (r Range, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Range{}, false, nil
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Range{}, false, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = first
	}
	startStr, endStr, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return Range{}, false, ErrInvalidRange
	}

	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return Range{}, false, ErrInvalidRange
		}
		if size == 0 {
			return Range{}, false, ErrUnsatisfiable
		}
		r.Start = max(size-suffix, 0)
		r.End = size - 1
		return r, true, nil
	}

	r.Start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || r.Start < 0 {
		return Range{}, false, ErrInvalidRange
	}
	r.End = size - 1
	if endStr != "" {
		r.End, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return Range{}, false, ErrInvalidRange
		}
		if r.End < r.Start {
			return Range{}, false, ErrUnsatisfiable
		}
	}
	if r.Start >= size {
		return Range{}, false, ErrUnsatisfiable
	}
	r.End = min(r.End, size-1)
	return r, true, nil
}
