package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.*.yaml
var defaultFiles embed.FS

const DefaultLocale = "en"

// Catalog loads string templates from embedded defaults and an optional override directory.
// Values are rendered with text/template (missing keys cause errors). A list
// value becomes a pool of variants addressed by Pick.
type Catalog struct {
	mu       sync.RWMutex
	data     map[string]string // flattened dot-keys → template text
	variants map[string]int    // pool key → variant count
	parsed   map[string]*template.Template
}

// New loads the embedded messages for locale and then applies overrides from dir if provided.
func New(locale, overrideDir string) (*Catalog, error) {
	c := &Catalog{
		data:     make(map[string]string),
		variants: make(map[string]int),
		parsed:   make(map[string]*template.Template),
	}
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		locale = DefaultLocale
	}
	if err := c.loadEmbedded(locale); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) loadEmbedded(locale string) error {
	raw, err := fs.ReadFile(defaultFiles, "messages."+locale+".yaml")
	if err != nil {
		return fmt.Errorf("read embedded messages (%s): %w", locale, err)
	}
	flat, pools, err := parseYAMLToFlat(raw)
	if err != nil {
		return err
	}
	c.merge(flat, pools)
	return nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// 같은 키를 두 override 파일이 정의하면 거부
	seen := make(map[string]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, pools, err := parseYAMLToFlat(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		c.merge(flat, pools)
	}
	return nil
}

func (c *Catalog) merge(flat map[string]string, pools map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, n := range pools {
		// a replaced pool drops its old variants
		for i := 0; i < c.variants[k]; i++ {
			delete(c.data, k+"."+strconv.Itoa(i))
		}
		c.variants[k] = n
	}
	for k, v := range flat {
		c.data[k] = v
		delete(c.parsed, k)
	}
}

func parseYAMLToFlat(b []byte) (map[string]string, map[string]int, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, nil, err
	}
	flat := make(map[string]string)
	pools := make(map[string]int)
	if err := flatten(m, "", flat, pools); err != nil {
		return nil, nil, err
	}
	return flat, pools, nil
}

func flatten(src any, prefix string, out map[string]string, pools map[string]int) error {
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(vv, key, out, pools); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if prefix == "" {
			return errors.New("list value without key prefix")
		}
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("unsupported list item at %s[%d]: %T", prefix, i, item)
			}
			out[prefix+"."+strconv.Itoa(i)] = s
		}
		pools[prefix] = len(v)
		return nil
	case string:
		if prefix == "" {
			return errors.New("string value without key prefix")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

// Has reports whether key is a template or a pool.
func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok || c.variants[key] > 0
}

// Render executes a template by key with the provided data. Pools render
// their first variant.
func (c *Catalog) Render(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	c.mu.RLock()
	n := c.variants[key]
	c.mu.RUnlock()
	if n > 0 {
		key = key + ".0"
	}
	return c.execute(key, data)
}

// Pick renders a random variant of a pool, or the plain template for a
// non-pool key.
func (c *Catalog) Pick(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	c.mu.RLock()
	n := c.variants[key]
	c.mu.RUnlock()
	if n > 0 {
		key = key + "." + strconv.Itoa(rand.IntN(n))
	}
	return c.execute(key, data)
}

// MustRender falls back to the key itself when rendering fails.
func (c *Catalog) MustRender(key string, data any) string {
	s, err := c.Render(key, data)
	if err != nil {
		return key
	}
	return s
}

func (c *Catalog) execute(key string, data any) (string, error) {
	c.mu.RLock()
	tpl, cached := c.parsed[key]
	text, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("template not found: %s", key)
	}
	if !cached {
		t, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.parsed[key] = t
		c.mu.Unlock()
		tpl = t
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
