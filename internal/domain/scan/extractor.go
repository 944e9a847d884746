// Package scan turns binary metadata into AssemblyResult models: category
// extraction, fixture discovery and per-binary aggregation.
package scan

import (
	"fmt"

	"github.com/openkraft/categoryassert/internal/domain"
)

// Extractor normalizes category declarations found in attribute sets.
type Extractor struct {
	vocab domain.Vocabulary
}

// NewExtractor creates an Extractor for the given attribute vocabulary.
func NewExtractor(vocab domain.Vocabulary) *Extractor {
	return &Extractor{vocab: vocab}
}

// ExtractCategories returns the categories declared by attrs at one scope.
// Category markers contribute their first constructor argument; fixture
// markers contribute the comma-separated list in their category field.
// Both sources are unioned. A category marker subclass without a string
// argument names its category after itself, so [Unit] on a UnitAttribute
// deriving from the marker declares "Unit".
func (e *Extractor) ExtractCategories(attrs []domain.Attribute) (domain.CategorySet, error) {
	var set domain.CategorySet
	for _, a := range attrs {
		switch {
		case e.vocab.MarksCategory(a):
			if a.Err != nil {
				return domain.CategorySet{}, fmt.Errorf("decoding %s: %w", a.Name, a.Err)
			}
			if s, ok := stringArg(a); ok {
				set.Add(s)
			} else if !e.vocab.IsCategoryMarker(a.Name) {
				set.Add(a.ShortName())
			}
		case e.vocab.MarksFixture(a):
			if a.Err != nil {
				return domain.CategorySet{}, fmt.Errorf("decoding %s: %w", a.Name, a.Err)
			}
			if v, ok := a.Field(e.vocab.CategoryField); ok {
				if s, ok := v.(string); ok {
					set.AddAll(domain.SplitCategoryList(s)...)
				}
			}
		}
	}
	return set, nil
}

// HasFixtureMarker reports whether attrs mark a test fixture.
func (e *Extractor) HasFixtureMarker(attrs []domain.Attribute) bool {
	for _, a := range attrs {
		if e.vocab.MarksFixture(a) {
			return true
		}
	}
	return false
}

// HasTestMarker reports whether attrs mark a test method.
func (e *Extractor) HasTestMarker(attrs []domain.Attribute) bool {
	for _, a := range attrs {
		if e.vocab.MarksTest(a) {
			return true
		}
	}
	return false
}

func stringArg(a domain.Attribute) (string, bool) {
	v, ok := a.Arg(0)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
