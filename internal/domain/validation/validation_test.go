package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkraft/categoryassert/internal/domain"
	"github.com/openkraft/categoryassert/internal/domain/validation"
)

func set(names ...string) domain.CategorySet { return domain.NewCategorySet(names...) }

// sample has categories at every scope: the binary declares "Assembly",
// FastTests declares "Fast" and its Unit test declares "unit".
func sample() *domain.AssemblyResult {
	fast := &domain.Fixture{Name: "FastTests", OwnCategories: set("Fast"), TestCases: []domain.TestCase{
		{Name: "Unit", OwnCategories: set("unit")},
		{Name: "Bare"},
	}}
	plain := &domain.Fixture{Name: "PlainTests", TestCases: []domain.TestCase{{Name: "Bare"}}}
	return domain.NewAssemblyResult("Sample", "", set("Assembly"), []*domain.Fixture{fast, plain})
}

func TestRequired_EffectiveCategoriesSpanAllScopes(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		want     map[string][]string
	}{
		{"method scope", []string{"Unit"}, map[string][]string{"FastTests": {"Bare"}, "PlainTests": {"Bare"}}},
		{"fixture scope", []string{"Fast"}, map[string][]string{"PlainTests": {"Bare"}}},
		{"binary scope", []string{"Assembly"}, map[string][]string{}},
		{"several matches", []string{"Unit", "Fast", "Assembly"}, map[string][]string{}},
		{"no match", []string{"Crazy"}, map[string][]string{"FastTests": {"Unit", "Bare"}, "PlainTests": {"Bare"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sample()
			validation.NewRequiredCategoryValidator(set(tt.required...)).Validate(result)

			got := map[string][]string{}
			for _, f := range result.Fixtures {
				for _, v := range f.Violations {
					assert.Equal(t, validation.NoCategoryMessage, v.Message)
					got[f.Name] = append(got[f.Name], v.TestName)
				}
			}
			assert.Equal(t, tt.want, got)
			assert.Empty(t, result.Violations)
		})
	}
}

func TestRequired_EmptyRequiredSetFlagsEveryTest(t *testing.T) {
	result := sample()
	validation.NewRequiredCategoryValidator(domain.CategorySet{}).Validate(result)
	assert.Equal(t, result.TestCount(), result.ViolationCount())
}

func TestProhibited_FlagsBinaryCategoriesOnly(t *testing.T) {
	result := sample()
	validation.NewProhibitedAssemblyCategoryValidator(set("assembly", "Fast")).Validate(result)

	assert.Equal(t, []string{`Invalid assembly-level category "Assembly"`}, result.Violations)
	for _, f := range result.Fixtures {
		assert.Empty(t, f.Violations)
	}
}

func TestProhibited_NoIntersection(t *testing.T) {
	result := sample()
	validation.NewProhibitedAssemblyCategoryValidator(set("OtherCategory")).Validate(result)
	assert.Equal(t, 0, result.ViolationCount())
}

func TestPipeline_OrderIndependent(t *testing.T) {
	required := validation.NewRequiredCategoryValidator(set("Crazy"))
	prohibited := validation.NewProhibitedAssemblyCategoryValidator(set("Assembly"))

	forward := sample()
	validation.Pipeline{required, prohibited}.Validate(forward)
	backward := sample()
	validation.Pipeline{prohibited, required}.Validate(backward)

	assert.Equal(t, 4, forward.ViolationCount())
	assert.Equal(t, forward.ViolationCount(), backward.ViolationCount())
	assert.Equal(t, forward.Violations, backward.Violations)
	for i := range forward.Fixtures {
		assert.ElementsMatch(t, forward.Fixtures[i].Violations, backward.Fixtures[i].Violations)
	}
}

func TestPipeline_RunsCustomValidators(t *testing.T) {
	calls := 0
	p := validation.NewPipeline(set("Assembly"), domain.CategorySet{})
	p = append(p, domain.ValidatorFunc(func(r *domain.AssemblyResult) {
		calls++
		r.AddViolation("custom")
	}))

	result := sample()
	p.Validate(result)
	require.Equal(t, 1, calls)
	assert.Equal(t, []string{"custom"}, result.Violations)
	assert.Equal(t, []string{"required-category", "prohibited-assembly-category", "custom"}, p.Names())
}
