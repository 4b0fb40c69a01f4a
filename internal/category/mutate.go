package category

import (
	"errors"
	"fmt"
	"strings"

	"conti/internal/core"
)

var (
	ErrNodeNotFound = errors.New("category not found")
	ErrDuplicateID  = errors.New("duplicate category id")
	ErrEmptyPath    = errors.New("empty category path")
)

// AddRoot appends a new root. Roots must carry a type.
func AddRoot(forest []core.CategoryNode, node core.CategoryNode) ([]core.CategoryNode, error) {
	node = normalize(node)
	if err := validateTree(node, true); err != nil {
		return nil, err
	}
	if err := checkUnique(forest, node); err != nil {
		return nil, err
	}
	out := make([]core.CategoryNode, len(forest), len(forest)+1)
	copy(out, forest)
	return append(out, node), nil
}

// AddChild appends node under the parent addressed by parentPath (ids from root).
func AddChild(forest []core.CategoryNode, parentPath []string, node core.CategoryNode) ([]core.CategoryNode, error) {
	node = normalize(node)
	if err := validateTree(node, false); err != nil {
		return nil, err
	}
	if err := checkUnique(forest, node); err != nil {
		return nil, err
	}
	return rebuild(forest, parentPath, func(parent core.CategoryNode) (core.CategoryNode, bool) {
		children := make([]core.CategoryNode, len(parent.SubCategories), len(parent.SubCategories)+1)
		copy(children, parent.SubCategories)
		parent.SubCategories = append(children, node)
		return parent, true
	})
}

// Rename changes the name of the node addressed by idPath. The id is untouched.
func Rename(forest []core.CategoryNode, idPath []string, name string) ([]core.CategoryNode, error) {
	name = strings.TrimSpace(name)
	probe := core.CategoryNode{ID: "probe", Name: name}
	if err := probe.Validate(false); err != nil {
		return nil, err
	}
	return rebuild(forest, idPath, func(n core.CategoryNode) (core.CategoryNode, bool) {
		n.Name = name
		return n, true
	})
}

// Remove drops the node addressed by idPath together with its descendants.
func Remove(forest []core.CategoryNode, idPath []string) ([]core.CategoryNode, error) {
	return rebuild(forest, idPath, func(core.CategoryNode) (core.CategoryNode, bool) {
		return core.CategoryNode{}, false
	})
}

// RenameByID resolves id to its path and renames it.
func RenameByID(forest []core.CategoryNode, id, name string) ([]core.CategoryNode, error) {
	p := PathTo(forest, id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return Rename(forest, p, name)
}

// RemoveByID resolves id to its path and removes it.
func RemoveByID(forest []core.CategoryNode, id string) ([]core.CategoryNode, error) {
	p := PathTo(forest, id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return Remove(forest, p)
}

// rebuild copies the spine along idPath and applies edit to the target. When edit
// reports false the target is dropped from its parent.
func rebuild(level []core.CategoryNode, idPath []string, edit func(core.CategoryNode) (core.CategoryNode, bool)) ([]core.CategoryNode, error) {
	if len(idPath) == 0 {
		return nil, ErrEmptyPath
	}
	pos := -1
	for i := range level {
		if level[i].ID == idPath[0] {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, idPath[0])
	}

	if len(idPath) == 1 {
		updated, keep := edit(level[pos])
		if !keep {
			out := make([]core.CategoryNode, 0, len(level)-1)
			out = append(out, level[:pos]...)
			return append(out, level[pos+1:]...), nil
		}
		out := make([]core.CategoryNode, len(level))
		copy(out, level)
		out[pos] = updated
		return out, nil
	}

	children, err := rebuild(level[pos].SubCategories, idPath[1:], edit)
	if err != nil {
		return nil, err
	}
	out := make([]core.CategoryNode, len(level))
	copy(out, level)
	out[pos].SubCategories = children
	return out, nil
}

func normalize(n core.CategoryNode) core.CategoryNode {
	n.ID = strings.TrimSpace(n.ID)
	n.Name = strings.TrimSpace(n.Name)
	return n
}

func validateTree(n core.CategoryNode, root bool) error {
	if err := n.Validate(root); err != nil {
		return err
	}
	seen := map[string]struct{}{}
	var walk func(c core.CategoryNode, isRoot bool) error
	walk = func(c core.CategoryNode, isRoot bool) error {
		if !isRoot {
			if err := c.Validate(false); err != nil {
				return err
			}
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
		for _, s := range c.SubCategories {
			if err := walk(s, false); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(n, root)
}

func checkUnique(forest []core.CategoryNode, n core.CategoryNode) error {
	for _, id := range CollectSubtree(&n).IDs {
		if FindByID(forest, id) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	}
	return nil
}

// ValidateForest checks a whole forest: typed roots, untyped children, unique ids.
func ValidateForest(forest []core.CategoryNode) error {
	seen := map[string]struct{}{}
	for _, root := range forest {
		if err := validateTree(root, true); err != nil {
			return err
		}
		for _, id := range CollectSubtree(&root).IDs {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateID, id)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}
