package application_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkraft/categoryassert/internal/adapters/outbound/clrmeta/clrmetatest"
	"github.com/openkraft/categoryassert/internal/adapters/outbound/loader"
	"github.com/openkraft/categoryassert/internal/adapters/outbound/locator"
	"github.com/openkraft/categoryassert/internal/application"
	"github.com/openkraft/categoryassert/internal/domain"
)

type recordingReporter struct {
	results  []*domain.AssemblyResult
	total    int
	finished bool
}

func (r *recordingReporter) Report(result *domain.AssemblyResult) error {
	r.results = append(r.results, result)
	return nil
}

func (r *recordingReporter) Finish(total int) error {
	r.total = total
	r.finished = true
	return nil
}

func newService(log *slog.Logger) *application.AssertService {
	return application.NewAssertService(
		func(include string) domain.BinaryLocator { return locator.New(include) },
		func(dir string) (domain.BinaryLoader, error) { return loader.New(dir) },
		log,
	)
}

func config(required, prohibited []string) domain.Config {
	cfg := domain.DefaultConfig()
	cfg.RequiredCategories = required
	cfg.ProhibitedAssemblyCategories = prohibited
	return cfg
}

// writeCategorized writes a binary with two tests: one inheriting "Unit"
// from its fixture and one declaring "Integration" itself.
func writeCategorized(t *testing.T, dir, name string) {
	t.Helper()
	a := clrmetatest.New(name)
	nu := a.NUnit(3, 13, 3, 0)

	unit := a.Type(name, "UnitTests")
	unit.Attribute(nu.TestFixture)
	unit.Attribute(nu.Category, "Unit")
	unit.Method("Adds").Attribute(nu.Test)
	unit.Method("Helper")

	integration := a.Type(name, "IntegrationTests")
	integration.Attribute(nu.TestFixture)
	connects := integration.Method("Connects")
	connects.Attribute(nu.Test)
	connects.Attribute(nu.Category, "Integration")

	a.Write(t, dir, name+".dll")
}

func writeAssemblyCategory(t *testing.T, dir string) {
	t.Helper()
	a := clrmetatest.New("Assembly.Tests")
	nu := a.NUnit(3, 13, 3, 0)
	a.Attribute(nu.Category, "Assembly")
	fx := a.Type("Assembly.Tests", "Tests")
	fx.Attribute(nu.TestFixture)
	m := fx.Method("Works")
	m.Attribute(nu.Test)
	m.Attribute(nu.Category, "Unit")
	a.Write(t, dir, "Assembly.Tests.dll")
}

func TestAssertService_CategorizedTestsPass(t *testing.T) {
	dir := t.TempDir()
	writeCategorized(t, dir, "Sample.Tests")
	rep := &recordingReporter{}

	summary, err := newService(nil).Run(dir, config([]string{"Integration", "Unit"}, nil), rep)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Violations)
	assert.Equal(t, 1, summary.Scanned)
	require.Len(t, rep.results, 1)
	assert.Equal(t, "Sample.Tests", rep.results[0].Name)
	assert.True(t, rep.finished)
}

func TestAssertService_CountsUncategorizedTests(t *testing.T) {
	dir := t.TempDir()
	writeCategorized(t, dir, "Sample.Tests")
	rep := &recordingReporter{}

	summary, err := newService(nil).Run(dir, config([]string{"Crazy"}, nil), rep)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Violations)
	assert.Equal(t, 2, rep.total)
	require.Len(t, rep.results, 1)
	for _, f := range rep.results[0].Fixtures {
		require.Len(t, f.Violations, 1)
		assert.Equal(t, "No test category defined", f.Violations[0].Message)
	}
}

func TestAssertService_ProhibitedAssemblyCategory(t *testing.T) {
	dir := t.TempDir()
	writeAssemblyCategory(t, dir)

	summary, err := newService(nil).Run(dir, config([]string{"Unit"}, []string{"Assembly"}), &recordingReporter{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Violations)

	summary, err = newService(nil).Run(dir, config([]string{"Unit"}, []string{"OtherCategory"}), &recordingReporter{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Violations)
}

func TestAssertService_FrameworkMismatchAbortsBeforeReporting(t *testing.T) {
	dir := t.TempDir()
	writeCategorized(t, dir, "A.Tests")

	old := clrmetatest.New("B.Tests")
	onu := old.NUnit(2, 6, 4, 14350)
	old.Type("B.Tests", "Legacy").Attribute(onu.TestFixture)
	old.Write(t, dir, "B.Tests.dll")

	rep := &recordingReporter{}
	_, err := newService(nil).Run(dir, config([]string{"Crazy"}, nil), rep)

	var fve *domain.FrameworkVersionError
	require.True(t, errors.As(err, &fve), "got %v", err)
	assert.Equal(t, "B.Tests", fve.Binary)
	assert.Equal(t, "2.6.4.14350", fve.Found.String())
	assert.Empty(t, rep.results)
	assert.False(t, rep.finished)
}

func TestAssertService_ExcludedAssembliesAreNeverScanned(t *testing.T) {
	dir := t.TempDir()
	writeCategorized(t, dir, "A.Tests")
	writeCategorized(t, dir, "B.Tests")
	cfg := config([]string{"Crazy"}, nil)
	cfg.ExcludedAssemblies = []string{"b.tests.DLL"}
	rep := &recordingReporter{}

	summary, err := newService(nil).Run(dir, cfg, rep)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Excluded)
	assert.Equal(t, 2, summary.Violations)
	require.Len(t, rep.results, 1)
	assert.Equal(t, "A.Tests", rep.results[0].Name)
}

func TestAssertService_SkipsBinariesThatFailToLoad(t *testing.T) {
	dir := t.TempDir()
	writeCategorized(t, dir, "Sample.Tests")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken.dll"), []byte("not a binary"), 0o644))

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	summary, err := newService(log).Run(dir, config([]string{"Crazy"}, nil), &recordingReporter{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Violations)
	assert.Contains(t, logs.String(), "Failed to load")
	assert.Contains(t, logs.String(), "Broken.dll")
}

func TestAssertService_IgnoresBinariesWithoutFramework(t *testing.T) {
	dir := t.TempDir()
	writeCategorized(t, dir, "Sample.Tests")
	clrmetatest.New("Helpers").Write(t, dir, "Helpers.dll")

	rep := &recordingReporter{}
	summary, err := newService(nil).Run(dir, config([]string{"Unit", "Integration"}, nil), rep)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 1, summary.Scanned)
	require.Len(t, rep.results, 1)
}

func TestAssertService_MissingBaseTypeAborts(t *testing.T) {
	dir := t.TempDir()
	lib := clrmetatest.New("Lib")
	lib.Type("Lib", "Present")
	lib.Write(t, dir, "Lib.dll")

	a := clrmetatest.New("App.Tests")
	nu := a.NUnit(3, 13, 3, 0)
	broken := a.Type("App.Tests", "Broken").Extends(a.TypeRef(a.Reference("Lib", 1, 0, 0, 0), "Lib", "Gone"))
	broken.Attribute(nu.TestFixture)
	a.Write(t, dir, "App.Tests.dll")

	_, err := newService(nil).Run(dir, config([]string{"Unit"}, nil), &recordingReporter{})
	var tle *domain.TypeLoadError
	require.True(t, errors.As(err, &tle), "got %v", err)
	assert.Equal(t, "App.Tests", tle.Binary)
}

func TestAssertService_MissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nowhere")

	_, err := newService(nil).Run(missing, domain.DefaultConfig(), &recordingReporter{})

	var nf *application.DirectoryNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, `The directory "`+missing+`" was not found.`, err.Error())
}

func TestAssertService_InvalidFrameworkVersion(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Framework.Version = "three"

	_, err := newService(nil).Run(t.TempDir(), cfg, &recordingReporter{})
	assert.Error(t, err)
}

func TestAssertService_SubclassedCategoryAttribute(t *testing.T) {
	dir := t.TempDir()
	a := clrmetatest.New("Custom.Tests")
	nu := a.NUnit(3, 13, 3, 0)
	unitAttr := a.Type("Custom.Tests", "UnitAttribute").Extends(a.TypeRef(nu.Ref, "NUnit.Framework", "CategoryAttribute"))
	unit := a.Ctor(unitAttr)

	fx := a.Type("Custom.Tests", "Tests")
	fx.Attribute(nu.TestFixture)
	for _, name := range []string{"First", "Second"} {
		m := fx.Method(name)
		m.Attribute(nu.Test)
		m.Attribute(unit)
	}
	a.Write(t, dir, "Custom.Tests.dll")

	rep := &recordingReporter{}
	summary, err := newService(nil).Run(dir, config([]string{"Unit"}, nil), rep)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Violations)
	require.Len(t, rep.results, 1)
	for _, tc := range rep.results[0].Fixtures[0].TestCases {
		assert.Equal(t, []string{"Unit"}, tc.OwnCategories.Names())
	}
}
