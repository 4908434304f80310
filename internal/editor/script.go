package editor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/cutroom/cutroom-agent/internal/faults"
)

// Script is a batch of commands applied as one edit.
type Script struct {
	Label    string    `json:"label,omitempty"`
	Commands []Command `json:"commands"`
}

// Script formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatOf picks a script format from a file name. JSON is the default.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadScript reads a script in JSON (comments allowed) or YAML. YAML is
// converted to JSON first so both formats share the command field names.
func LoadScript(r io.Reader, format string) (Script, error) {
	const op = "load script"
	data, err := io.ReadAll(r)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}

	switch format {
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return Script{}, faults.Validation(op, "invalid yaml: %v", err)
		}
		if data, err = json.Marshal(v); err != nil {
			return Script{}, faults.Validation(op, "yaml is not representable as json: %v", err)
		}
	case FormatJSON, "":
		data = jsonc.ToJSON(data)
	default:
		return Script{}, faults.Validation(op, "unknown script format %q", format)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var s Script
	if err := dec.Decode(&s); err != nil {
		return Script{}, faults.Validation(op, "%v", err)
	}
	if len(s.Commands) == 0 {
		return Script{}, faults.Validation(op, "script has no commands")
	}
	return s, nil
}
