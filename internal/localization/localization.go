// Package localization holds the texts of the staff notifications, one JSON
// catalog per language, with English as the fallback catalog.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// FallbackLang is the catalog every other language falls back to. It must
// be present.
const FallbackLang = "en"

//go:embed locales/*.json
var builtin embed.FS

// Localizer is read-only after loading and safe for concurrent use.
type Localizer struct {
	catalogs map[string]map[string]string
}

// NewDefaultLocalizer loads the catalogs compiled into the binary.
func NewDefaultLocalizer() (*Localizer, error) {
	return NewLocalizer(builtin, "locales")
}

// NewLocalizer loads every <lang>.json in dir. Other files are ignored.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read locales in %s: %w", dir, err)
	}

	l := &Localizer{catalogs: make(map[string]map[string]string)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", name, err)
		}
		var catalog map[string]string
		if err := json.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("failed to parse locale %s: %w", name, err)
		}
		l.catalogs[strings.TrimSuffix(name, ".json")] = catalog
	}

	if _, ok := l.catalogs[FallbackLang]; !ok {
		return nil, fmt.Errorf("locales in %s: no %s.json", dir, FallbackLang)
	}
	return l, nil
}

// Supports reports whether lang has its own catalog.
func (l *Localizer) Supports(lang string) bool {
	_, ok := l.catalogs[lang]
	return ok
}

// Missing lists the keys of the fallback catalog that lang does not
// translate, sorted.
func (l *Localizer) Missing(lang string) []string {
	catalog := l.catalogs[lang]
	var keys []string
	for key := range l.catalogs[FallbackLang] {
		if _, ok := catalog[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the text for key in lang, then in FallbackLang, then the
// key itself.
func (l *Localizer) GetString(lang, key string) string {
	if value, ok := l.catalogs[lang][key]; ok {
		return value
	}
	if value, ok := l.catalogs[FallbackLang][key]; ok {
		return value
	}
	return key
}

// Sprintf formats the text for key with args.
func (l *Localizer) Sprintf(lang, key string, args ...any) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}
