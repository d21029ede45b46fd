// Package config resolves the overlay configuration: built-in defaults,
// an optional TOML file next to the executable, and the JSON overrides
// the editor side serializes into the environment, deep-merged in that
// order.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Config is the immutable configuration record consumed by the overlay
// controller. Values are not validated; out-of-range settings surface as
// display anomalies, not errors.
type Config struct {
	Position                 string            `json:"position"`
	MinSeverity              string            `json:"min_severity"`
	MaxWidth                 int               `json:"max_width"`
	TopInset                 int               `json:"top_inset"`
	Border                   any               `json:"border"`
	MaxItems                 int               `json:"max_items"`
	HideOnInsert             bool              `json:"hide_on_insert"`
	HideUnderlineDiagnostics bool              `json:"hide_underline_diagnostics"`
	RelevantClientOnly       bool              `json:"relevant_client_only"`
	Styles                   map[string]string `json:"styles"`

	// Daemon-side settings, carried in the same document.
	LogLevel               string `json:"log_level"`
	DebugImmediateShutdown bool   `json:"debug_immediate_shutdown"`
}

// Default returns the built-in configuration. Style templates recognize
// %l (line), %c (column) and %m (message).
func Default() *Config {
	return &Config{
		Position:    "top_right",
		MinSeverity: "hint",
		MaxWidth:    80,
		TopInset:    0,
		Border:      "none",
		MaxItems:    8,
		Styles: map[string]string{
			"error": "%l:%c E %m",
			"warn":  "%l:%c W %m",
			"info":  "%l:%c I %m",
			"hint":  "%l:%c H %m",
		},
		LogLevel: "info",
	}
}

// Normalize deep-merges the given JSON override documents, in order, onto
// the defaults and returns the resulting record. Objects merge key by key
// at every depth (a single severity style can be overridden without
// clearing the others); scalars and arrays replace wholesale. Pure and
// idempotent; empty or non-object documents are skipped.
func Normalize(overrides ...[]byte) (*Config, error) {
	base, err := json.Marshal(Default())
	if err != nil {
		return nil, err
	}

	for _, doc := range overrides {
		if len(doc) == 0 {
			continue
		}
		parsed := gjson.ParseBytes(doc)
		if !parsed.IsObject() {
			return nil, fmt.Errorf("config overrides must be a JSON object, got: %.40s", string(doc))
		}
		base = mergeObject(base, parsed, "")
	}

	var cfg Config
	if err := json.Unmarshal(base, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeObject writes every leaf of override onto base at the given path
// prefix, recursing through nested objects.
func mergeObject(base []byte, override gjson.Result, prefix string) []byte {
	override.ForEach(func(key, value gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}
		if value.IsObject() {
			base = mergeObject(base, value, path)
			return true
		}
		merged, err := sjson.SetRawBytes(base, path, []byte(value.Raw))
		if err == nil {
			base = merged
		}
		return true
	})
	return base
}

// LoadFileJSON reads a TOML overrides file and returns it as a JSON
// document suitable for Normalize. A missing file is not an error.
func LoadFileJSON(path string) ([]byte, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return json.Marshal(raw)
}
