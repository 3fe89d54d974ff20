package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// refPattern matches ${dotted.path} references in templates.
var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Context is the per-run key/value store: per-stage outputs,
// user-supplied variables, and instance bindings, addressed by dotted
// paths. Writes are last-write-wins; insertion order is irrelevant.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Set stores a value under a dotted path, creating intermediate maps as
// needed. Setting "vars.x" then reading "vars" yields {"x": ...}.
func (c *Context) Set(path string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := strings.Split(path, ".")
	node := c.values
	for _, part := range parts[:len(parts)-1] {
		child, exists := node[part].(map[string]any)
		if !exists {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// Get resolves a dotted path. The second result is false when any
// segment is missing.
func (c *Context) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var node any = c.values
	for _, part := range strings.Split(path, ".") {
		m, isMap := node.(map[string]any)
		if !isMap {
			return nil, false
		}
		child, exists := m[part]
		if !exists {
			return nil, false
		}
		node = child
	}
	return node, true
}

// Interpolate resolves every ${path} reference in the template against
// the context. An unresolved reference is left as a diagnostic
// placeholder rather than raising, so one missing variable degrades a
// prompt instead of crashing the run.
func (c *Context) Interpolate(template string) string {
	return refPattern.ReplaceAllStringFunc(template, func(ref string) string {
		path := strings.TrimSpace(ref[2 : len(ref)-1])
		value, exists := c.Get(path)
		if !exists {
			return "<unresolved:" + path + ">"
		}
		return Stringify(value)
	})
}

// Snapshot returns a deep copy of the context's contents.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(c.values)
}

// Export writes a YAML snapshot atomically (temp file + rename), used
// for crash diagnostics after every stage transition.
func (c *Context) Export(path string) error {
	data, err := yaml.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func deepCopy(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if m, isMap := v.(map[string]any); isMap {
			out[k] = deepCopy(m)
			continue
		}
		out[k] = v
	}
	return out
}

// Stringify converts any value to its template representation. Maps and
// slices render as JSON instead of Go's %v format, so structured values
// interpolate as something an agent can actually parse.
func Stringify(value any) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		if b, err := json.Marshal(value); err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%v", value)
}

// Truthy evaluates an interpolated condition string: empty, "false",
// "0", and unresolved placeholders are false; everything else is true.
func Truthy(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "false" || s == "0" || s == "no" {
		return false
	}
	if strings.HasPrefix(s, "<unresolved:") {
		return false
	}
	return true
}
