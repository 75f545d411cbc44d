package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
)

// BotsPath returns the default bot list path: ~/.qqadapter/bots.json.
func BotsPath() string {
	return filepath.Join(DataDir(), "bots.json")
}

// DataDir returns the adapter data directory: ~/.qqadapter.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qqadapter"
	}
	return filepath.Join(home, ".qqadapter")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the bot list at path.
// If path is empty, BotsPath() is used. A missing file yields an empty list.
func Load(path string) ([]channel.QQConfig, error) {
	if path == "" {
		path = BotsPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []channel.QQConfig{}, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	records, err := decodeRecords(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return FormatConfig(records)
}

// decodeRecords splits the file into raw JSON records. YAML documents are
// converted to JSON so both formats share one defaulting path.
func decodeRecords(data []byte, asYAML bool) ([]json.RawMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !asYAML {
		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var generic []map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	records := make([]json.RawMessage, 0, len(generic))
	for _, m := range generic {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		records = append(records, raw)
	}
	return records, nil
}

// FormatConfig decodes each record over DefaultQQConfig, drops records
// without an appId and collapses duplicate identities. The last occurrence
// of an identity wins and takes the position of that occurrence.
func FormatConfig(records []json.RawMessage) ([]channel.QQConfig, error) {
	out := make([]channel.QQConfig, 0, len(records))
	for i, raw := range records {
		cfg := channel.DefaultQQConfig()
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		cfg.AppID = strings.TrimSpace(cfg.AppID)
		if cfg.AppID == "" {
			slog.Warn("config: record without appId skipped", "index", i)
			continue
		}
		if cfg.Mode == "" {
			cfg.Mode = channel.ModeWS
		}
		out = removeApp(out, cfg.AppID)
		out = append(out, cfg)
	}
	return out, nil
}

func removeApp(list []channel.QQConfig, appID string) []channel.QQConfig {
	for i := range list {
		if list[i].AppID == appID {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Save writes the bot list to path, omitting fields equal to their default.
// If path is empty, BotsPath() is used.
func Save(cfgs []channel.QQConfig, path string) error {
	if path == "" {
		path = BotsPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	minimal := make([]map[string]any, 0, len(cfgs))
	for _, cfg := range cfgs {
		m, err := stripDefaults(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		minimal = append(minimal, m)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(minimal)
	} else {
		data, err = json.MarshalIndent(minimal, "", "  ")
		// Append a trailing newline for POSIX compliance.
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// stripDefaults returns cfg as a generic map without the keys whose values
// equal DefaultQQConfig. appId is always kept.
func stripDefaults(cfg channel.QQConfig) (map[string]any, error) {
	have, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	def, err := toMap(channel.DefaultQQConfig())
	if err != nil {
		return nil, err
	}
	for k, v := range have {
		if k == "appId" {
			continue
		}
		if reflect.DeepEqual(v, def[k]) {
			delete(have, k)
		}
	}
	return have, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
