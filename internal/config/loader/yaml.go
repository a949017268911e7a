package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

func parseYAML(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &ParseError{
			Path:    source,
			Message: err.Error(),
			Err:     err,
		}
	}
	normalized, ok := normalizeYAML(config).(map[string]any)
	if !ok && config != nil {
		return nil, &ParseError{Path: source, Message: "top level must be a mapping"}
	}
	return normalized, nil
}

// normalizeYAML converts integer-typed values to int64 so YAML and TOML
// sources merge into maps of the same shape.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeYAML(val)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case []any:
		for i, val := range x {
			x[i] = normalizeYAML(val)
		}
		return x
	case int:
		return int64(x)
	default:
		return v
	}
}
