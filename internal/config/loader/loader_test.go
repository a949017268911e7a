package loader

import (
	"errors"
	"io/fs"
	"testing"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"tickbus.toml", FormatTOML, false},
		{"/etc/tickbus/config.TOML", FormatTOML, false},
		{"tickbus.yaml", FormatYAML, false},
		{"tickbus.yml", FormatYAML, false},
		{"tickbus.json", "", true},
		{"tickbus", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFor(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatFor(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FormatFor(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestFileLoader_LoadTOML(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/tickbus.toml", `
[bus]
max_queue_size = 64
max_history_size = 10

[loop]
tick_rate = 30
`)

	l, err := NewFileLoaderWithFS(memfs, "/tickbus.toml")
	if err != nil {
		t.Fatal(err)
	}
	config, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	bus, ok := config["bus"].(map[string]any)
	if !ok {
		t.Fatal("expected bus to be a map")
	}
	if bus["max_queue_size"] != int64(64) {
		t.Errorf("max_queue_size = %v (%T), want 64", bus["max_queue_size"], bus["max_queue_size"])
	}

	loop, ok := config["loop"].(map[string]any)
	if !ok {
		t.Fatal("expected loop to be a map")
	}
	if loop["tick_rate"] != int64(30) {
		t.Errorf("tick_rate = %v, want 30", loop["tick_rate"])
	}
}

func TestFileLoader_LoadYAML(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/tickbus.yaml", `
bus:
  max_queue_size: 64
journal:
  enabled: true
  types: ["player.*", "game.over"]
`)

	l, err := NewFileLoaderWithFS(memfs, "/tickbus.yaml")
	if err != nil {
		t.Fatal(err)
	}
	config, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	bus := config["bus"].(map[string]any)
	if bus["max_queue_size"] != int64(64) {
		t.Errorf("max_queue_size = %v (%T), want int64 64", bus["max_queue_size"], bus["max_queue_size"])
	}

	journal := config["journal"].(map[string]any)
	if journal["enabled"] != true {
		t.Errorf("enabled = %v, want true", journal["enabled"])
	}
	types, ok := journal["types"].([]any)
	if !ok || len(types) != 2 || types[0] != "player.*" {
		t.Errorf("types = %#v", journal["types"])
	}
}

func TestFileLoader_LoadNonExistent(t *testing.T) {
	l, err := NewFileLoaderWithFS(NewMemFS(), "/nonexistent.toml")
	if err != nil {
		t.Fatal(err)
	}

	config, err := l.Load()
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got: %v", err)
	}
	if config != nil {
		t.Error("expected nil config for non-existent file")
	}
}

func TestFileLoader_LoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
	}{
		{"toml", "/invalid.toml", "[bus\nmax_queue_size = 4\n"},
		{"yaml", "/invalid.yaml", "bus: [unclosed\n"},
		{"yaml scalar", "/scalar.yaml", "just a string\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memfs := NewMemFS()
			memfs.AddFile(tt.path, tt.content)

			l, err := NewFileLoaderWithFS(memfs, tt.path)
			if err != nil {
				t.Fatal(err)
			}
			_, err = l.Load()
			if err == nil {
				t.Fatal("expected parse error")
			}

			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if parseErr.Path != tt.path {
				t.Errorf("Path = %q, want %q", parseErr.Path, tt.path)
			}
		})
	}
}

func TestParseError_Error(t *testing.T) {
	tests := []struct {
		err  *ParseError
		want string
	}{
		{&ParseError{Path: "a.toml", Line: 3, Column: 7, Message: "bad"}, "parse error in a.toml at line 3, column 7: bad"},
		{&ParseError{Path: "a.toml", Line: 3, Message: "bad"}, "parse error in a.toml at line 3: bad"},
		{&ParseError{Path: "a.toml", Message: "bad"}, "parse error in a.toml: bad"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name     string
		dst      map[string]any
		src      map[string]any
		expected map[string]any
	}{
		{
			name:     "nil dst",
			dst:      nil,
			src:      map[string]any{"a": 1},
			expected: map[string]any{"a": 1},
		},
		{
			name:     "nil src",
			dst:      map[string]any{"a": 1},
			src:      nil,
			expected: map[string]any{"a": 1},
		},
		{
			name:     "src overrides dst",
			dst:      map[string]any{"a": 1},
			src:      map[string]any{"a": 2},
			expected: map[string]any{"a": 2},
		},
		{
			name: "nested merge",
			dst: map[string]any{
				"bus": map[string]any{"max_queue_size": 10},
			},
			src: map[string]any{
				"bus": map[string]any{"max_history_size": 5},
			},
			expected: map[string]any{
				"bus": map[string]any{"max_queue_size": 10, "max_history_size": 5},
			},
		},
		{
			name: "map replaced by scalar",
			dst: map[string]any{
				"bus": map[string]any{"max_queue_size": 10},
			},
			src:      map[string]any{"bus": "off"},
			expected: map[string]any{"bus": "off"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DeepMerge(tt.dst, tt.src)
			if !mapsEqual(result, tt.expected) {
				t.Errorf("DeepMerge() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// mapsEqual compares two maps for equality (simple version for tests).
func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		switch ta := va.(type) {
		case map[string]any:
			tb, ok := vb.(map[string]any)
			if !ok || !mapsEqual(ta, tb) {
				return false
			}
		default:
			if va != vb {
				return false
			}
		}
	}
	return true
}

// getByPath reads a dotted path from a nested map.
func getByPath(data map[string]any, path string) (any, bool) {
	current := any(data)
	for _, part := range splitPath(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return append(parts, path[start:])
}
