// Package validation holds the category policies applied to scanned
// binaries.
package validation

import "github.com/openkraft/categoryassert/internal/domain"

// NoCategoryMessage is reported for a test without any required category.
const NoCategoryMessage = "No test category defined"

// RequiredCategoryValidator flags tests whose effective categories (own,
// fixture and binary) include none of the required categories.
type RequiredCategoryValidator struct {
	required domain.CategorySet
}

// NewRequiredCategoryValidator creates the validator.
func NewRequiredCategoryValidator(required domain.CategorySet) *RequiredCategoryValidator {
	return &RequiredCategoryValidator{required: required}
}

// Validate appends one violation per uncategorized test case.
func (v *RequiredCategoryValidator) Validate(result *domain.AssemblyResult) {
	for _, fixture := range result.Fixtures {
		for _, tc := range fixture.TestCases {
			effective := tc.OwnCategories.Union(fixture.OwnCategories, result.OwnCategories)
			// Matching more than one required category is accepted.
			if effective.Intersect(v.required).IsEmpty() {
				fixture.AddViolation(domain.TestViolation{
					TestName: tc.Name,
					Message:  NoCategoryMessage,
				})
			}
		}
	}
}
