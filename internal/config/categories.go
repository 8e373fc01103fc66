package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Folder naming modes. An explicit Category.Folder always wins over these.
const (
	FolderNamingKey         = "key"
	FolderNamingDisplayName = "display_name"
	FolderNamingLocalized   = "localized"
)

// Category is one named neuron: primary patterns decide membership,
// indicators only add explainability.
type Category struct {
	DisplayName          string   `json:"display_name" yaml:"display_name"`
	DisplayNameLocalized string   `json:"display_name_localized,omitempty" yaml:"display_name_localized,omitempty"`
	DisplayNameZh        string   `json:"display_name_zh,omitempty" yaml:"display_name_zh,omitempty"`
	Folder               string   `json:"folder,omitempty" yaml:"folder,omitempty"`
	Patterns             []string `json:"patterns" yaml:"patterns"`
	Indicators           []string `json:"indicators,omitempty" yaml:"indicators,omitempty"`
}

// LocalizedName returns the localized display name. display_name_zh is the
// legacy spelling of the same field.
func (c Category) LocalizedName() string {
	if name := strings.TrimSpace(c.DisplayNameLocalized); name != "" {
		return name
	}
	return strings.TrimSpace(c.DisplayNameZh)
}

type CategoryConfig struct {
	Categories      map[string]Category `json:"categories" yaml:"categories"`
	DefaultCategory string              `json:"default_category,omitempty" yaml:"default_category,omitempty"`
	FolderNaming    string              `json:"folder_naming,omitempty" yaml:"folder_naming,omitempty"`
	SkillPatterns   []string            `json:"skill_patterns,omitempty" yaml:"skill_patterns,omitempty"`
}

// LoadCategories reads the category document from ConfigDir. A YAML
// document (categories.yaml or categories.yml) is used when no JSON one
// exists.
func LoadCategories() (*CategoryConfig, error) {
	path := CategoriesPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		base := strings.TrimSuffix(path, filepath.Ext(path))
		for _, ext := range []string{".yaml", ".yml"} {
			if _, err := os.Stat(base + ext); err == nil {
				path = base + ext
				break
			}
		}
	}
	return LoadCategoriesFrom(path)
}

func LoadCategoriesFrom(path string) (*CategoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: category config not found at %s (run 'clawbrain init')", ErrConfig, path)
		}
		return nil, fmt.Errorf("%w: read category config: %v", ErrConfig, err)
	}

	cfg := &CategoryConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse category config %s: %v", ErrConfig, path, err)
	}

	cfg.DefaultCategory = strings.TrimSpace(cfg.DefaultCategory)
	cfg.FolderNaming = strings.TrimSpace(cfg.FolderNaming)
	if cfg.FolderNaming == "" {
		cfg.FolderNaming = FolderNamingKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the rules a classification run depends on: folder-safe
// keys, at least one pattern per category and no two categories sharing a
// folder.
func (c *CategoryConfig) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: no categories defined", ErrConfig)
	}
	switch c.FolderNaming {
	case "", FolderNamingKey, FolderNamingDisplayName, FolderNamingLocalized:
	default:
		return fmt.Errorf("%w: unknown folder_naming %q", ErrConfig, c.FolderNaming)
	}

	folders := make(map[string]string, len(c.Categories)+1)
	for _, key := range c.Keys() {
		if !validKey(key) {
			return fmt.Errorf("%w: category key %q is not folder-safe", ErrConfig, key)
		}
		if !hasNonBlank(c.Categories[key].Patterns) {
			return fmt.Errorf("%w: category %q has no patterns", ErrConfig, key)
		}
		folder := strings.ToLower(c.FolderFor(key))
		if other, dup := folders[folder]; dup {
			return fmt.Errorf("%w: categories %q and %q share folder %q", ErrConfig, other, key, c.FolderFor(key))
		}
		folders[folder] = key
	}

	fallback := c.Fallback()
	if !validKey(fallback) {
		return fmt.Errorf("%w: default_category %q is not folder-safe", ErrConfig, fallback)
	}
	if _, configured := c.Categories[fallback]; !configured {
		if other, dup := folders[strings.ToLower(c.FolderFor(fallback))]; dup {
			return fmt.Errorf("%w: default_category %q collides with folder of %q", ErrConfig, fallback, other)
		}
	}
	return nil
}

// Keys returns category keys in sorted order.
func (c *CategoryConfig) Keys() []string {
	keys := make([]string, 0, len(c.Categories))
	for k := range c.Categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fallback is the category that receives entries no pattern matched.
func (c *CategoryConfig) Fallback() string {
	if c.DefaultCategory != "" {
		return c.DefaultCategory
	}
	return DefaultCategory
}

// FolderFor resolves the neuron folder of a category key:
//
//  1. an explicit folder
//  2. folder_naming=localized: localized name, then display name, then key
//  3. folder_naming=display_name: display name, then key
//  4. otherwise the key
//
// Every candidate is sanitised; blank results fall through to the next one.
func (c *CategoryConfig) FolderFor(key string) string {
	cat, ok := c.Categories[key]
	if !ok {
		if f := SanitizeFolder(key); f != "" {
			return f
		}
		return key
	}
	if f := SanitizeFolder(cat.Folder); f != "" {
		return f
	}

	candidates := []string{key}
	switch c.FolderNaming {
	case FolderNamingDisplayName:
		candidates = []string{cat.DisplayName, key}
	case FolderNamingLocalized:
		candidates = []string{cat.LocalizedName(), cat.DisplayName, key}
	}
	for _, candidate := range candidates {
		if f := SanitizeFolder(candidate); f != "" {
			return f
		}
	}
	return key
}

// DisplayNameFor returns the human-readable name used in document headers.
func (c *CategoryConfig) DisplayNameFor(key string) string {
	if cat, ok := c.Categories[key]; ok {
		if name := strings.TrimSpace(cat.DisplayName); name != "" {
			return name
		}
	}
	r, size := utf8.DecodeRuneInString(key)
	if r == utf8.RuneError {
		return key
	}
	return string(unicode.ToUpper(r)) + key[size:]
}

// SanitizeFolder makes name safe to use as a single path component.
// Separators, reserved characters and control characters become '-'.
func SanitizeFolder(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`/\:*?"<>|`, r) {
			r = '-'
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), " .-")
}

func validKey(key string) bool {
	if key == "" || SanitizeFolder(key) != key {
		return false
	}
	return strings.IndexFunc(key, unicode.IsSpace) < 0
}

func hasNonBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// DefaultCategoryConfig is the document written by 'clawbrain init'.
func DefaultCategoryConfig() *CategoryConfig {
	return &CategoryConfig{
		DefaultCategory: DefaultCategory,
		FolderNaming:    FolderNamingKey,
		Categories: map[string]Category{
			"work": {
				DisplayName: "Work",
				Patterns:    []string{"project", "deploy", "code", "bug", "meeting", "release"},
				Indicators:  []string{"task", "done", "deadline"},
			},
			"emotions": {
				DisplayName: "Emotions",
				Patterns:    []string{"feel", "mood", "happy", "sad", "angry", "anxious", "stressed"},
				Indicators:  []string{"tired", "excited"},
			},
			"relationships": {
				DisplayName: "People",
				Patterns:    []string{"friend", "family", "partner", "colleague", "met with"},
				Indicators:  []string{"call", "dinner"},
			},
			"learning": {
				DisplayName: "Learning",
				Patterns:    []string{"learned", "course", "study", "tutorial"},
				Indicators:  []string{"book", "article", "paper"},
			},
			"health": {
				DisplayName: "Health",
				Patterns:    []string{"sleep", "exercise", "workout", "doctor", "headache"},
				Indicators:  []string{"hours", "steps"},
			},
			"ideas": {
				DisplayName: "Ideas",
				Patterns:    []string{"idea", "what if", "brainstorm"},
				Indicators:  []string{"someday", "maybe"},
			},
		},
		SkillPatterns: []string{"how to", "command", "script", "workflow", "shortcut", "terminal", "tool"},
	}
}

func SaveCategories(cfg *CategoryConfig) error {
	return saveJSON(CategoriesPath(), cfg)
}
