package export

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cutroom/cutroom-agent/internal/faults"
)

const (
	maxNameLen    = 120
	defaultFormat = ".mp4"
)

// SanitizeName makes s safe to use as a file name: control characters are
// dropped, other unsafe runes become '_', whitespace runs collapse to one
// space and Windows device names get a '_' prefix.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.Join(strings.Fields(strings.Map(nameRune, s)), " ")
	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	if isDeviceName(cleaned) {
		cleaned = "_" + cleaned
	}
	return cleaned
}

func nameRune(r rune) rune {
	switch {
	case unicode.IsControl(r):
		return -1
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
		return r
	case strings.ContainsRune("-_.,()", r):
		return r
	}
	return '_'
}

func isDeviceName(name string) bool {
	stem, _, _ := strings.Cut(strings.ToUpper(name), ".")
	switch stem {
	case "CON", "PRN", "AUX", "NUL":
		return true
	}
	if len(stem) == 4 && (strings.HasPrefix(stem, "COM") || strings.HasPrefix(stem, "LPT")) {
		return stem[3] >= '1' && stem[3] <= '9'
	}
	return false
}

// ValidateOutputDir checks that dir is an existing, clean, absolute
// directory.
func ValidateOutputDir(dir string) error {
	const op = "validate output dir"
	if strings.TrimSpace(dir) == "" {
		return faults.Validation(op, "output_dir is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return faults.Validation(op, "output_dir cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return faults.Validation(op, "output_dir must be clean path")
	}
	if !filepath.IsAbs(dir) {
		return faults.Validation(op, "output_dir must be absolute")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return faults.Validation(op, "output_dir does not exist")
		}
		return faults.Validation(op, "invalid output_dir: %v", err)
	}
	if !info.IsDir() {
		return faults.Validation(op, "output_dir is not a directory")
	}

	return nil
}

// OutputPath joins dir and a sanitized file name, adding .mp4 unless the
// name already carries a container extension. fallback names the file when
// name sanitizes to nothing.
func OutputPath(dir, name, fallback string) string {
	base := SanitizeName(name, maxNameLen)
	if base == "" || strings.Trim(base, ".") == "" {
		base = SanitizeName(fallback, maxNameLen)
	}
	if base == "" || strings.Trim(base, ".") == "" {
		base = "export"
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".mp4", ".mov", ".mkv", ".m4v":
	default:
		base += defaultFormat
	}
	return filepath.Join(dir, base)
}
