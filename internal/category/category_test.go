package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
)

func sampleForest() []core.CategoryNode {
	return []core.CategoryNode{
		{ID: "food", Name: "Food", Type: core.Expense, SubCategories: []core.CategoryNode{
			{ID: "groceries", Name: "Groceries"},
			{ID: "restaurants", Name: "Restaurants", SubCategories: []core.CategoryNode{
				{ID: "coffee", Name: "Coffee"},
			}},
		}},
		{ID: "transport", Name: "Transport", Type: core.Expense, SubCategories: []core.CategoryNode{
			{ID: "fuel", Name: "Fuel"},
		}},
		{ID: "salary", Name: "Salary", Type: core.Income},
	}
}

func TestFindByID(t *testing.T) {
	forest := sampleForest()

	n := FindByID(forest, "coffee")
	require.NotNil(t, n)
	assert.Equal(t, "Coffee", n.Name)

	assert.Nil(t, FindByID(forest, "missing"))
	assert.Nil(t, FindByID(forest, ""))
	assert.Nil(t, FindByID(nil, "food"))
}

func TestFindByPath(t *testing.T) {
	forest := sampleForest()

	tests := []struct {
		path string
		want string
	}{
		{"Food > Restaurants > Coffee", "coffee"},
		{"food>restaurants", "restaurants"},
		{"  FOOD  >  groceries ", "groceries"},
		{"Salary", "salary"},
		{"Groceries", ""},         // must start at a root
		{"Food > Fuel", ""},       // wrong branch
		{"Food > Groceries > X", ""},
		{"", ""},
		{" > ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			n := FindByPath(forest, tt.path)
			if tt.want == "" {
				assert.Nil(t, n)
				return
			}
			require.NotNil(t, n)
			assert.Equal(t, tt.want, n.ID)
		})
	}
}

func TestCollectSubtree(t *testing.T) {
	forest := sampleForest()

	st := CollectSubtree(FindByID(forest, "food"))
	assert.Equal(t, []string{"food", "groceries", "restaurants", "coffee"}, st.IDs)
	assert.Equal(t, []string{"Food", "Groceries", "Restaurants", "Coffee"}, st.Names)
	assert.True(t, st.HasID("coffee"))
	assert.False(t, st.HasID("fuel"))

	leaf := CollectSubtree(FindByID(forest, "fuel"))
	assert.Equal(t, []string{"fuel"}, leaf.IDs)

	assert.Empty(t, CollectSubtree(nil).IDs)
}

func TestPathLabel(t *testing.T) {
	forest := sampleForest()

	label, ok := PathLabel(forest, "coffee")
	require.True(t, ok)
	assert.Equal(t, "Food > Restaurants > Coffee", label)

	label, ok = PathLabel(forest, "salary")
	require.True(t, ok)
	assert.Equal(t, "Salary", label)

	_, ok = PathLabel(forest, "nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"food", "restaurants", "coffee"}, PathTo(forest, "coffee"))
	assert.Nil(t, PathTo(forest, "nope"))
}

func TestIndex(t *testing.T) {
	idx := NewIndex(sampleForest())

	assert.Equal(t, 7, idx.Len())
	assert.Equal(t, "food", idx.RootOf("coffee").ID)
	assert.Equal(t, "salary", idx.RootOf("salary").ID)
	assert.Nil(t, idx.RootOf("nope"))

	typ, ok := idx.TypeOf("fuel")
	require.True(t, ok)
	assert.Equal(t, core.Expense, typ)

	parent, ok := idx.Parent("coffee")
	require.True(t, ok)
	assert.Equal(t, "restaurants", parent)
	_, ok = idx.Parent("food")
	assert.False(t, ok)

	p, ok := idx.Path("coffee")
	require.True(t, ok)
	assert.Equal(t, "Food > Restaurants > Coffee", p)

	assert.ElementsMatch(t, []string{"groceries", "coffee", "fuel", "salary"}, idx.Leaves())
}

func TestIndexFirstOccurrenceWins(t *testing.T) {
	forest := []core.CategoryNode{
		{ID: "a", Name: "A", Type: core.Expense, SubCategories: []core.CategoryNode{{ID: "x", Name: "First"}}},
		{ID: "b", Name: "B", Type: core.Expense, SubCategories: []core.CategoryNode{{ID: "x", Name: "Second"}}},
	}
	idx := NewIndex(forest)
	assert.Equal(t, "First", idx.Node("x").Name)
	assert.Equal(t, FindByID(forest, "x"), idx.Node("x"))
}

func TestAddRootAndChild(t *testing.T) {
	forest := sampleForest()

	out, err := AddRoot(forest, core.CategoryNode{ID: "home", Name: " Home ", Type: core.Expense})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, "Home", out[3].Name)
	assert.Len(t, forest, 3, "input must not change")

	_, err = AddRoot(forest, core.CategoryNode{ID: "home", Name: "Home"})
	assert.Error(t, err, "root without type")

	_, err = AddRoot(forest, core.CategoryNode{ID: "food", Name: "Again", Type: core.Expense})
	assert.ErrorIs(t, err, ErrDuplicateID)

	out, err = AddChild(forest, []string{"food", "restaurants"}, core.CategoryNode{ID: "pizza", Name: "Pizza"})
	require.NoError(t, err)
	label, ok := PathLabel(out, "pizza")
	require.True(t, ok)
	assert.Equal(t, "Food > Restaurants > Pizza", label)
	assert.Nil(t, FindByID(forest, "pizza"), "input must not change")

	_, err = AddChild(forest, []string{"food", "nope"}, core.CategoryNode{ID: "x", Name: "X"})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = AddChild(forest, []string{"food"}, core.CategoryNode{ID: "x", Name: "X", Type: core.Income})
	assert.Error(t, err, "child with type")
}

func TestRenameSharesUntouchedSubtrees(t *testing.T) {
	forest := sampleForest()

	out, err := Rename(forest, []string{"food", "restaurants", "coffee"}, "Cafe")
	require.NoError(t, err)
	assert.Equal(t, "Cafe", FindByID(out, "coffee").Name)
	assert.Equal(t, "Coffee", FindByID(forest, "coffee").Name)

	// Transport was not on the spine, so its children slice is shared.
	assert.Same(t, &forest[1].SubCategories[0], &out[1].SubCategories[0])

	_, err = Rename(forest, []string{"food"}, "  ")
	assert.Error(t, err)
	_, err = Rename(forest, nil, "x")
	assert.ErrorIs(t, err, ErrEmptyPath)

	out, err = RenameByID(forest, "fuel", "Gas")
	require.NoError(t, err)
	label, _ := PathLabel(out, "fuel")
	assert.Equal(t, "Transport > Gas", label)
}

func TestRemove(t *testing.T) {
	forest := sampleForest()

	out, err := Remove(forest, []string{"food", "restaurants"})
	require.NoError(t, err)
	assert.Nil(t, FindByID(out, "restaurants"))
	assert.Nil(t, FindByID(out, "coffee"), "descendants go with their parent")
	assert.NotNil(t, FindByID(forest, "coffee"))

	out, err = RemoveByID(forest, "salary")
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = RemoveByID(forest, "nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestValidateForest(t *testing.T) {
	require.NoError(t, ValidateForest(sampleForest()))

	dup := sampleForest()
	dup[2].SubCategories = []core.CategoryNode{{ID: "coffee", Name: "Bonus"}}
	assert.ErrorIs(t, ValidateForest(dup), ErrDuplicateID)
}
