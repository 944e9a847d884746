package validation

import "github.com/openkraft/categoryassert/internal/domain"

// Pipeline runs validators in order. Each validator sees the result as
// produced by the scanner plus whatever the others appended; none of them
// read violations, so order only affects report order.
type Pipeline []domain.Validator

// NewPipeline builds the default policy set.
func NewPipeline(required, prohibited domain.CategorySet) Pipeline {
	return Pipeline{
		NewRequiredCategoryValidator(required),
		NewProhibitedAssemblyCategoryValidator(prohibited),
	}
}

// Validate runs every validator against result.
func (p Pipeline) Validate(result *domain.AssemblyResult) {
	for _, v := range p {
		v.Validate(result)
	}
}

// Names returns a short name per validator, for logging.
func (p Pipeline) Names() []string {
	names := make([]string, 0, len(p))
	for _, v := range p {
		switch v.(type) {
		case *RequiredCategoryValidator:
			names = append(names, "required-category")
		case *ProhibitedAssemblyCategoryValidator:
			names = append(names, "prohibited-assembly-category")
		default:
			names = append(names, "custom")
		}
	}
	return names
}
