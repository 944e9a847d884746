package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkraft/categoryassert/internal/domain"
)

func TestCategorySet_DeduplicatesIgnoringCase(t *testing.T) {
	set := domain.NewCategorySet("A", "a", "A")
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, []string{"A"}, set.Names())
	assert.True(t, set.Contains("a"))
}

func TestCategorySet_IgnoresEmptyLabels(t *testing.T) {
	set := domain.NewCategorySet("", "  ", "Unit")
	assert.Equal(t, []string{"Unit"}, set.Names())
	assert.False(t, set.Contains(""))
}

func TestCategorySet_ZeroValue(t *testing.T) {
	var set domain.CategorySet
	assert.True(t, set.IsEmpty())
	assert.False(t, set.Contains("Unit"))
	assert.True(t, set.Add("Unit"))
	assert.False(t, set.Add("UNIT"))
}

func TestCategorySet_FoldsUnicode(t *testing.T) {
	set := domain.NewCategorySet("École")
	assert.True(t, set.Contains("école"))
	assert.True(t, set.Contains("ÉCOLE"))
}

func TestCategorySet_Union(t *testing.T) {
	a := domain.NewCategorySet("Unit")
	b := domain.NewCategorySet("unit", "Fast")
	c := domain.NewCategorySet("Slow")

	u := a.Union(b, c)
	assert.Equal(t, []string{"Unit", "Fast", "Slow"}, u.Names())
	assert.Equal(t, []string{"Unit"}, a.Names(), "operands are not modified")
}

func TestCategorySet_Intersect(t *testing.T) {
	effective := domain.NewCategorySet("unit", "Fast")
	required := domain.NewCategorySet("Integration", "Unit")

	assert.Equal(t, []string{"unit"}, effective.Intersect(required).Names())
	assert.True(t, effective.Intersect(domain.NewCategorySet("Crazy")).IsEmpty())
}

func TestCategorySet_JSON(t *testing.T) {
	data, err := json.Marshal(domain.NewCategorySet("Unit", "Fast"))
	require.NoError(t, err)
	assert.JSONEq(t, `["Unit","Fast"]`, string(data))

	var empty domain.CategorySet
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))

	var back domain.CategorySet
	require.NoError(t, json.Unmarshal([]byte(`["a","A","b"]`), &back))
	assert.Equal(t, []string{"a", "b"}, back.Names())
}

func TestSplitCategoryList(t *testing.T) {
	assert.Equal(t, []string{"Unit", "Fast"}, domain.SplitCategoryList(" Unit ,, Fast,"))
	assert.Empty(t, domain.SplitCategoryList(" , "))
}
