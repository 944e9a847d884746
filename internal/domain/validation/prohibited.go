package validation

import (
	"fmt"

	"github.com/openkraft/categoryassert/internal/domain"
)

// ProhibitedAssemblyCategoryValidator flags categories that may not be
// declared at binary scope.
type ProhibitedAssemblyCategoryValidator struct {
	prohibited domain.CategorySet
}

// NewProhibitedAssemblyCategoryValidator creates the validator.
func NewProhibitedAssemblyCategoryValidator(prohibited domain.CategorySet) *ProhibitedAssemblyCategoryValidator {
	return &ProhibitedAssemblyCategoryValidator{prohibited: prohibited}
}

// Validate appends one assembly-level violation per prohibited category.
func (v *ProhibitedAssemblyCategoryValidator) Validate(result *domain.AssemblyResult) {
	for _, category := range result.OwnCategories.Intersect(v.prohibited).Names() {
		result.AddViolation(InvalidAssemblyCategoryMessage(category))
	}
}

// InvalidAssemblyCategoryMessage formats the prohibited-category violation.
func InvalidAssemblyCategoryMessage(category string) string {
	return fmt.Sprintf("Invalid assembly-level category \"%s\"", category)
}
