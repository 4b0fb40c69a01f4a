// Package category indexes and edits a user's category forest.
//
// Lookups never fail loudly: a missing id or path yields nil (or false). Edits never
// modify their input; they rebuild the spine from the root to the target node and
// share every untouched subtree with the original forest.
package category

import (
	"strings"

	"conti/internal/core"
)

// PathSeparator separates segments of a display path ("Food > Groceries").
const PathSeparator = ">"

// Subtree holds the ids and names of a node and all its descendants, in preorder.
type Subtree struct {
	IDs   []string
	Names []string
}

// HasID reports whether id belongs to the subtree.
func (s Subtree) HasID(id string) bool {
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// IDSet returns the subtree ids as a set.
func (s Subtree) IDSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.IDs))
	for _, id := range s.IDs {
		set[id] = struct{}{}
	}
	return set
}

// FindByID returns the first node with the given id in depth-first order.
func FindByID(forest []core.CategoryNode, id string) *core.CategoryNode {
	if id == "" {
		return nil
	}
	for i := range forest {
		if forest[i].ID == id {
			return &forest[i]
		}
		if n := FindByID(forest[i].SubCategories, id); n != nil {
			return n
		}
	}
	return nil
}

// SplitPath splits a display path into trimmed segments. Empty segments are dropped.
func SplitPath(path string) []string {
	raw := strings.Split(path, PathSeparator)
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// JoinPath renders segments as a display path.
func JoinPath(segs []string) string {
	return strings.Join(segs, " "+PathSeparator+" ")
}

// FindByPath resolves a ">"-delimited path starting at a root. Segments are
// compared case-insensitively and every segment must match in order.
func FindByPath(forest []core.CategoryNode, path string) *core.CategoryNode {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return nil
	}
	level := forest
	var found *core.CategoryNode
	for _, seg := range segs {
		found = nil
		for i := range level {
			if strings.EqualFold(strings.TrimSpace(level[i].Name), seg) {
				found = &level[i]
				break
			}
		}
		if found == nil {
			return nil
		}
		level = found.SubCategories
	}
	return found
}

// CollectSubtree walks node and its descendants in preorder.
func CollectSubtree(node *core.CategoryNode) Subtree {
	var st Subtree
	if node == nil {
		return st
	}
	var walk func(n *core.CategoryNode)
	walk = func(n *core.CategoryNode) {
		st.IDs = append(st.IDs, n.ID)
		st.Names = append(st.Names, n.Name)
		for i := range n.SubCategories {
			walk(&n.SubCategories[i])
		}
	}
	walk(node)
	return st
}

// PathTo returns the ids from a root down to id, or nil if id is absent.
func PathTo(forest []core.CategoryNode, id string) []string {
	if id == "" {
		return nil
	}
	for i := range forest {
		if forest[i].ID == id {
			return []string{id}
		}
		if rest := PathTo(forest[i].SubCategories, id); rest != nil {
			return append([]string{forest[i].ID}, rest...)
		}
	}
	return nil
}

// PathLabel builds the "Root > Child > Leaf" label for id.
func PathLabel(forest []core.CategoryNode, id string) (string, bool) {
	names := pathNames(forest, id)
	if names == nil {
		return "", false
	}
	return JoinPath(names), true
}

func pathNames(forest []core.CategoryNode, id string) []string {
	for i := range forest {
		if forest[i].ID == id {
			return []string{forest[i].Name}
		}
		if rest := pathNames(forest[i].SubCategories, id); rest != nil {
			return append([]string{forest[i].Name}, rest...)
		}
	}
	return nil
}

type entry struct {
	node   *core.CategoryNode
	root   *core.CategoryNode
	parent string
	path   string
}

// Index is a read-only lookup table over one forest snapshot. When ids repeat, the
// first occurrence in depth-first order wins, matching FindByID.
type Index struct {
	forest  []core.CategoryNode
	entries map[string]entry
	order   []string
}

// NewIndex indexes forest. The forest must not be mutated while the index is in use.
func NewIndex(forest []core.CategoryNode) *Index {
	idx := &Index{forest: forest, entries: make(map[string]entry)}
	for i := range forest {
		root := &forest[i]
		idx.add(root, root, "", nil)
	}
	return idx
}

func (x *Index) add(n, root *core.CategoryNode, parent string, names []string) {
	names = append(names[:len(names):len(names)], n.Name)
	if _, dup := x.entries[n.ID]; !dup {
		x.entries[n.ID] = entry{node: n, root: root, parent: parent, path: JoinPath(names)}
		x.order = append(x.order, n.ID)
	}
	for i := range n.SubCategories {
		x.add(&n.SubCategories[i], root, n.ID, names)
	}
}

// Forest returns the indexed forest.
func (x *Index) Forest() []core.CategoryNode { return x.forest }

// Len is the number of distinct ids.
func (x *Index) Len() int { return len(x.order) }

// IDs returns every id in depth-first order.
func (x *Index) IDs() []string {
	out := make([]string, len(x.order))
	copy(out, x.order)
	return out
}

func (x *Index) Node(id string) *core.CategoryNode {
	if e, ok := x.entries[id]; ok {
		return e.node
	}
	return nil
}

func (x *Index) Has(id string) bool {
	_, ok := x.entries[id]
	return ok
}

// Path returns the display path of id.
func (x *Index) Path(id string) (string, bool) {
	e, ok := x.entries[id]
	return e.path, ok
}

// Parent returns the parent id; roots have none.
func (x *Index) Parent(id string) (string, bool) {
	e, ok := x.entries[id]
	if !ok || e.parent == "" {
		return "", false
	}
	return e.parent, true
}

// RootOf returns the root ancestor of id (a root is its own root).
func (x *Index) RootOf(id string) *core.CategoryNode {
	if e, ok := x.entries[id]; ok {
		return e.root
	}
	return nil
}

// TypeOf returns the type inherited from id's root.
func (x *Index) TypeOf(id string) (core.TransactionType, bool) {
	root := x.RootOf(id)
	if root == nil {
		return "", false
	}
	return root.Type, true
}

// Subtree collects the subtree rooted at id.
func (x *Index) Subtree(id string) (Subtree, bool) {
	n := x.Node(id)
	if n == nil {
		return Subtree{}, false
	}
	return CollectSubtree(n), true
}

// ResolvePath finds a node by display path.
func (x *Index) ResolvePath(path string) *core.CategoryNode {
	return FindByPath(x.forest, path)
}

// Leaves returns the ids of nodes without children.
func (x *Index) Leaves() []string {
	var out []string
	for _, id := range x.order {
		if len(x.entries[id].node.SubCategories) == 0 {
			out = append(out, id)
		}
	}
	return out
}
