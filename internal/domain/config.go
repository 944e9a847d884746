package domain

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Default framework and vocabulary values for NUnit 3 test binaries.
const (
	DefaultInclude          = "*.dll"
	DefaultFrameworkName    = "nunit.framework"
	DefaultFrameworkVersion = "3.13.3.0"
	DefaultCategoryField    = "Category"
)

// Config holds run configuration loaded from .categoryassert.yaml and
// merged with command-line flags.
type Config struct {
	Include                      string          `yaml:"include"                        json:"include,omitempty"`
	ExcludedAssemblies           []string        `yaml:"excluded_assemblies"            json:"excluded_assemblies,omitempty"`
	RequiredCategories           []string        `yaml:"required_categories"            json:"required_categories,omitempty"`
	ProhibitedAssemblyCategories []string        `yaml:"prohibited_assembly_categories" json:"prohibited_assembly_categories,omitempty"`
	Framework                    FrameworkConfig `yaml:"framework"                      json:"framework"`
	Vocabulary                   Vocabulary      `yaml:"vocabulary"                     json:"vocabulary"`
}

// FrameworkConfig names the test framework assembly binaries must reference
// and the exact version they must reference it at.
type FrameworkConfig struct {
	Name    string `yaml:"name"    json:"name,omitempty"`
	Version string `yaml:"version" json:"version,omitempty"`
}

// Vocabulary is the attribute vocabulary of the test framework.
type Vocabulary struct {
	FixtureMarkers  []string `yaml:"fixture_markers"  json:"fixture_markers,omitempty"`
	TestMarkers     []string `yaml:"test_markers"     json:"test_markers,omitempty"`
	CategoryMarkers []string `yaml:"category_markers" json:"category_markers,omitempty"`
	// CategoryField is the named argument of a fixture marker that holds a
	// comma-separated category list.
	CategoryField string `yaml:"category_field" json:"category_field,omitempty"`
}

// DefaultVocabulary returns the NUnit attribute vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		FixtureMarkers:  []string{"NUnit.Framework.TestFixtureAttribute"},
		TestMarkers:     []string{"NUnit.Framework.TestAttribute", "NUnit.Framework.TestCaseAttribute"},
		CategoryMarkers: []string{"NUnit.Framework.CategoryAttribute"},
		CategoryField:   DefaultCategoryField,
	}
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Include: DefaultInclude,
		Framework: FrameworkConfig{
			Name:    DefaultFrameworkName,
			Version: DefaultFrameworkVersion,
		},
		Vocabulary: DefaultVocabulary(),
	}
}

// WithDefaults fills every unset field from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Include == "" {
		c.Include = def.Include
	}
	if c.Framework.Name == "" {
		c.Framework.Name = def.Framework.Name
	}
	if c.Framework.Version == "" {
		c.Framework.Version = def.Framework.Version
	}
	if len(c.Vocabulary.FixtureMarkers) == 0 {
		c.Vocabulary.FixtureMarkers = def.Vocabulary.FixtureMarkers
	}
	if len(c.Vocabulary.TestMarkers) == 0 {
		c.Vocabulary.TestMarkers = def.Vocabulary.TestMarkers
	}
	if len(c.Vocabulary.CategoryMarkers) == 0 {
		c.Vocabulary.CategoryMarkers = def.Vocabulary.CategoryMarkers
	}
	if c.Vocabulary.CategoryField == "" {
		c.Vocabulary.CategoryField = def.Vocabulary.CategoryField
	}
	return c
}

// Validate checks the config for invalid values and returns a descriptive error.
func (c Config) Validate() error {
	if c.Include != "" && !doublestar.ValidatePattern(c.Include) {
		return fmt.Errorf("invalid include pattern %q", c.Include)
	}
	for _, p := range c.ExcludedAssemblies {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid excluded assembly pattern %q", p)
		}
	}
	if c.Framework.Version != "" {
		if _, err := ParseVersion(c.Framework.Version); err != nil {
			return fmt.Errorf("framework.version: %w", err)
		}
	}
	for _, group := range [][]string{
		c.Vocabulary.FixtureMarkers,
		c.Vocabulary.TestMarkers,
		c.Vocabulary.CategoryMarkers,
	} {
		for _, name := range group {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("vocabulary contains an empty attribute name")
			}
		}
	}
	return nil
}

// FrameworkVersion returns the parsed expected framework version.
func (c Config) FrameworkVersion() (Version, error) {
	return ParseVersion(c.Framework.Version)
}

// Merge overlays flag values on top of file values. List settings are
// unioned; non-empty scalars in override win.
func (c Config) Merge(override Config) Config {
	result := c
	if override.Include != "" {
		result.Include = override.Include
	}
	result.ExcludedAssemblies = appendUnique(c.ExcludedAssemblies, override.ExcludedAssemblies)
	result.RequiredCategories = appendUnique(c.RequiredCategories, override.RequiredCategories)
	result.ProhibitedAssemblyCategories = appendUnique(c.ProhibitedAssemblyCategories, override.ProhibitedAssemblyCategories)
	if override.Framework.Name != "" {
		result.Framework.Name = override.Framework.Name
	}
	if override.Framework.Version != "" {
		result.Framework.Version = override.Framework.Version
	}
	if len(override.Vocabulary.FixtureMarkers) > 0 {
		result.Vocabulary.FixtureMarkers = override.Vocabulary.FixtureMarkers
	}
	if len(override.Vocabulary.TestMarkers) > 0 {
		result.Vocabulary.TestMarkers = override.Vocabulary.TestMarkers
	}
	if len(override.Vocabulary.CategoryMarkers) > 0 {
		result.Vocabulary.CategoryMarkers = override.Vocabulary.CategoryMarkers
	}
	if override.Vocabulary.CategoryField != "" {
		result.Vocabulary.CategoryField = override.Vocabulary.CategoryField
	}
	return result
}

func appendUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, group := range [][]string{base, extra} {
		for _, v := range group {
			key := strings.ToLower(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// IsFixtureMarker reports whether the attribute type marks a test fixture.
func (v Vocabulary) IsFixtureMarker(name string) bool { return contains(v.FixtureMarkers, name) }

// IsTestMarker reports whether the attribute type marks a test method.
func (v Vocabulary) IsTestMarker(name string) bool { return contains(v.TestMarkers, name) }

// IsCategoryMarker reports whether the attribute type declares a category.
func (v Vocabulary) IsCategoryMarker(name string) bool { return contains(v.CategoryMarkers, name) }

// MarksFixture reports whether a is, or derives from, a fixture marker.
func (v Vocabulary) MarksFixture(a Attribute) bool { return isAny(v.FixtureMarkers, a) }

// MarksTest reports whether a is, or derives from, a test marker.
func (v Vocabulary) MarksTest(a Attribute) bool { return isAny(v.TestMarkers, a) }

// MarksCategory reports whether a is, or derives from, a category marker.
func (v Vocabulary) MarksCategory(a Attribute) bool { return isAny(v.CategoryMarkers, a) }

func isAny(markers []string, a Attribute) bool {
	for _, m := range markers {
		if a.Is(m) {
			return true
		}
	}
	return false
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}
