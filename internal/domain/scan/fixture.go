package scan

import (
	"github.com/openkraft/categoryassert/internal/domain"
)

// FixtureBuilder identifies test fixtures and their test cases.
type FixtureBuilder struct {
	extractor *Extractor
}

// NewFixtureBuilder creates a FixtureBuilder sharing the given extractor.
func NewFixtureBuilder(extractor *Extractor) *FixtureBuilder {
	return &FixtureBuilder{extractor: extractor}
}

// BuildFixtureOrNone returns the fixture declared by t, or nil when t carries
// no fixture marker.
func (b *FixtureBuilder) BuildFixtureOrNone(p domain.MetadataProvider, t domain.TypeHandle) (*domain.Fixture, error) {
	attrs, err := p.TypeAttributes(t)
	if err != nil {
		return nil, err
	}
	if !b.extractor.HasFixtureMarker(attrs) {
		return nil, nil
	}

	categories, err := b.extractor.ExtractCategories(attrs)
	if err != nil {
		return nil, &domain.TypeLoadError{Type: t.Name, Err: err}
	}

	methods, err := p.Methods(t)
	if err != nil {
		return nil, err
	}

	fixture := &domain.Fixture{
		Name:          t.Name,
		OwnCategories: categories,
		TestCases:     []domain.TestCase{},
		Violations:    []domain.TestViolation{},
	}
	for _, m := range methods {
		mattrs, err := p.MethodAttributes(m)
		if err != nil {
			return nil, err
		}
		if !b.extractor.HasTestMarker(mattrs) {
			continue
		}
		own, err := b.extractor.ExtractCategories(mattrs)
		if err != nil {
			return nil, &domain.TypeLoadError{Type: t.Name, Err: err}
		}
		fixture.TestCases = append(fixture.TestCases, domain.TestCase{
			Name:          m.Name,
			OwnCategories: own,
		})
	}
	return fixture, nil
}
