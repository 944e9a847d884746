package scan_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkraft/categoryassert/internal/domain"
	"github.com/openkraft/categoryassert/internal/domain/scan"
)

func newBuilder() *scan.FixtureBuilder {
	return scan.NewFixtureBuilder(scan.NewExtractor(domain.DefaultVocabulary()))
}

func TestBuildFixtureOrNone_NoMarkerYieldsNil(t *testing.T) {
	bin := &fakeBinary{types: []fakeType{{
		name:    "App.Helpers",
		attrs:   []domain.Attribute{category("Unit")},
		methods: []fakeMethod{{name: "Run", attrs: []domain.Attribute{marker(testMarker)}}},
	}}}

	f, err := newBuilder().BuildFixtureOrNone(bin, domain.TypeHandle{ID: 0, Name: "App.Helpers"})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestBuildFixtureOrNone_KeepsTestsInDeclarationOrder(t *testing.T) {
	bin := &fakeBinary{types: []fakeType{{
		name:  "App.Tests",
		attrs: []domain.Attribute{fixture("Unit"), category("Fast")},
		methods: []fakeMethod{
			{name: "Zeta", attrs: []domain.Attribute{marker(testMarker)}},
			{name: "SetUp", attrs: []domain.Attribute{marker("NUnit.Framework.SetUpAttribute")}},
			{name: "Alpha", attrs: []domain.Attribute{marker(testCaseMarker), marker(testCaseMarker), category("Slow")}},
			{name: "helper"},
		},
	}}}

	f, err := newBuilder().BuildFixtureOrNone(bin, domain.TypeHandle{ID: 0, Name: "App.Tests"})
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.Equal(t, "App.Tests", f.Name)
	assert.ElementsMatch(t, []string{"Unit", "Fast"}, f.OwnCategories.Names())
	require.Len(t, f.TestCases, 2)
	assert.Equal(t, "Zeta", f.TestCases[0].Name)
	assert.True(t, f.TestCases[0].OwnCategories.IsEmpty())
	assert.Equal(t, "Alpha", f.TestCases[1].Name)
	assert.Equal(t, []string{"Slow"}, f.TestCases[1].OwnCategories.Names())
	assert.Empty(t, f.Violations)
}

func TestBuildFixtureOrNone_FixtureWithoutTests(t *testing.T) {
	bin := &fakeBinary{types: []fakeType{{name: "App.Empty", attrs: []domain.Attribute{fixture("")}}}}

	f, err := newBuilder().BuildFixtureOrNone(bin, domain.TypeHandle{ID: 0, Name: "App.Empty"})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Empty(t, f.TestCases)
}

func TestBuildFixtureOrNone_PropagatesProviderErrors(t *testing.T) {
	cause := &domain.TypeLoadError{Type: "App.Broken", Err: errors.New("missing base")}
	bin := &fakeBinary{types: []fakeType{{name: "App.Broken", err: cause}}}

	_, err := newBuilder().BuildFixtureOrNone(bin, domain.TypeHandle{ID: 0, Name: "App.Broken"})
	assert.ErrorIs(t, err, cause)
}

func TestBuildFixtureOrNone_UndecodableCategoryIsTypeLoadError(t *testing.T) {
	bin := &fakeBinary{types: []fakeType{{
		name:    "App.Tests",
		attrs:   []domain.Attribute{fixture("")},
		methods: []fakeMethod{{name: "Run", attrs: []domain.Attribute{marker(testMarker), {Name: categoryMarker, Err: errors.New("bad blob")}}}},
	}}}

	_, err := newBuilder().BuildFixtureOrNone(bin, domain.TypeHandle{ID: 0, Name: "App.Tests"})
	var tle *domain.TypeLoadError
	require.True(t, errors.As(err, &tle))
	assert.Equal(t, "App.Tests", tle.Type)
}
