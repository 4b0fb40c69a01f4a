package storage

import (
	"encoding/json"
	"os"

	"conti/internal/category"
	"conti/internal/core"
)

// DefaultForest is the starter category tree for new users.
func DefaultForest() []core.CategoryNode {
	return []core.CategoryNode{
		{ID: "income", Name: "Income", Type: core.Income, SubCategories: []core.CategoryNode{
			{ID: "income-salary", Name: "Salary"},
			{ID: "income-other", Name: "Other"},
		}},
		{ID: "home", Name: "Home", Type: core.Expense, SubCategories: []core.CategoryNode{
			{ID: "home-rent", Name: "Rent"},
			{ID: "home-utilities", Name: "Utilities"},
		}},
		{ID: "food", Name: "Food", Type: core.Expense, SubCategories: []core.CategoryNode{
			{ID: "food-groceries", Name: "Groceries"},
			{ID: "food-restaurants", Name: "Restaurants"},
		}},
		{ID: "transport", Name: "Transport", Type: core.Expense},
	}
}

// LoadSeed reads the starter forest from a JSON file. A missing, unreadable or
// invalid file falls back to DefaultForest.
func LoadSeed(path string) []core.CategoryNode {
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			var forest []core.CategoryNode
			if json.Unmarshal(raw, &forest) == nil && category.ValidateForest(forest) == nil {
				return forest
			}
		}
	}
	return DefaultForest()
}
