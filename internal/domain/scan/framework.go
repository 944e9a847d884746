package scan

import "github.com/openkraft/categoryassert/internal/domain"

// FrameworkCheck decides whether a binary is a test binary for the expected
// framework build.
type FrameworkCheck struct {
	Name    string
	Version domain.Version
}

// ReferencesFramework reports whether bin references the framework by its
// exact assembly name. A
// reference at any other version is a *domain.FrameworkVersionError.
func (c FrameworkCheck) ReferencesFramework(bin domain.Binary) (bool, error) {
	found := false
	for _, ref := range bin.References() {
		if ref.Name != c.Name {
			continue
		}
		if ref.Version != c.Version {
			return false, &domain.FrameworkVersionError{
				Binary:    bin.Name(),
				Framework: c.Name,
				Expected:  c.Version,
				Found:     ref.Version,
			}
		}
		found = true
	}
	return found, nil
}
