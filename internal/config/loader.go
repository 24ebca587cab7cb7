package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"reportgen/internal/apperr"
	"reportgen/internal/logging"
)

// LoadFile reads a .yaml, .yml or .json file into a generic map. JSON files
// may contain comments and trailing commas. An empty document yields an
// empty map.
func LoadFile(path string) (map[string]any, error) {
	out := map[string]any{}
	if err := decodeFile(path, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// decodeFile decodes path into v according to its extension. Every failure
// is a ConfigurationError naming path.
func decodeFile(path string, v any) error {
	log := logging.Get(logging.CategoryConfig)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.NewConfigurationError(path, "configuration file not found", nil)
		}
		return apperr.NewConfigurationError(path, "failed to read configuration", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return apperr.NewConfigurationError(path, "invalid YAML syntax", err)
		}
	case ".json":
		if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
			return apperr.NewConfigurationError(path, "invalid JSON syntax", err)
		}
	default:
		return apperr.NewConfigurationError(path,
			fmt.Sprintf("unsupported configuration format %q (use .yaml, .yml or .json)", ext),
			apperr.ErrUnsupportedFileFormat)
	}

	log.Debug("configuration loaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
