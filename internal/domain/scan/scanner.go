package scan

import (
	"errors"

	"github.com/openkraft/categoryassert/internal/domain"
)

// Scanner aggregates one binary into an AssemblyResult. It performs no
// validation.
type Scanner struct {
	extractor *Extractor
	fixtures  *FixtureBuilder
}

// NewScanner creates a Scanner for the given attribute vocabulary.
func NewScanner(vocab domain.Vocabulary) *Scanner {
	ex := NewExtractor(vocab)
	return &Scanner{extractor: ex, fixtures: NewFixtureBuilder(ex)}
}

// Scan extracts binary-level categories and every fixture of bin.
func (s *Scanner) Scan(bin domain.Binary) (*domain.AssemblyResult, error) {
	attrs, err := bin.BinaryAttributes()
	if err != nil {
		return nil, withBinary(bin, err)
	}
	categories, err := s.extractor.ExtractCategories(attrs)
	if err != nil {
		return nil, &domain.TypeLoadError{Binary: bin.Name(), Err: err}
	}

	types, err := bin.Types()
	if err != nil {
		return nil, withBinary(bin, err)
	}

	fixtures := []*domain.Fixture{}
	for _, t := range types {
		f, err := s.fixtures.BuildFixtureOrNone(bin, t)
		if err != nil {
			return nil, withBinary(bin, err)
		}
		if f != nil {
			fixtures = append(fixtures, f)
		}
	}

	return domain.NewAssemblyResult(bin.Name(), bin.Path(), categories, fixtures), nil
}

// withBinary stamps the binary name on type-load errors and classifies any
// other provider failure as one.
func withBinary(bin domain.Binary, err error) error {
	var tle *domain.TypeLoadError
	if errors.As(err, &tle) {
		if tle.Binary == "" {
			tle.Binary = bin.Name()
		}
		return tle
	}
	return &domain.TypeLoadError{Binary: bin.Name(), Err: err}
}
