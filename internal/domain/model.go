package domain

// TestCase is one discovered test method.
type TestCase struct {
	Name          string      `json:"name"`
	OwnCategories CategorySet `json:"categories"`
}

// TestViolation is a defect tied to a specific test case.
type TestViolation struct {
	TestName string `json:"test"`
	Message  string `json:"message"`
}

// Fixture is one discovered test-bearing type.
type Fixture struct {
	Name          string          `json:"name"`
	OwnCategories CategorySet     `json:"categories"`
	TestCases     []TestCase      `json:"test_cases"`
	Violations    []TestViolation `json:"violations"`
}

// AddViolation records a test-level violation. Violations are never removed.
func (f *Fixture) AddViolation(v TestViolation) {
	f.Violations = append(f.Violations, v)
}

// AssemblyResult is the aggregated model of one scanned binary.
type AssemblyResult struct {
	Name          string      `json:"name"`
	Path          string      `json:"path"`
	OwnCategories CategorySet `json:"categories"`
	Fixtures      []*Fixture  `json:"fixtures"`
	Violations    []string    `json:"violations"`
}

// NewAssemblyResult creates a result with no violations.
func NewAssemblyResult(name, path string, categories CategorySet, fixtures []*Fixture) *AssemblyResult {
	return &AssemblyResult{
		Name:          name,
		Path:          path,
		OwnCategories: categories,
		Fixtures:      fixtures,
		Violations:    []string{},
	}
}

// AddViolation records an assembly-level violation.
func (a *AssemblyResult) AddViolation(msg string) {
	a.Violations = append(a.Violations, msg)
}

// ViolationCount sums assembly-level and test-level violations.
func (a *AssemblyResult) ViolationCount() int {
	n := len(a.Violations)
	for _, f := range a.Fixtures {
		n += len(f.Violations)
	}
	return n
}

// TestCount returns the number of test cases across all fixtures.
func (a *AssemblyResult) TestCount() int {
	n := 0
	for _, f := range a.Fixtures {
		n += len(f.TestCases)
	}
	return n
}
