// Package formula evaluates user-authored arithmetic over a flat namespace of
// named figures (KPIs, category totals, budget amounts).
//
// Raw names may contain spaces and symbols ("Food > Groceries"). Inside the
// evaluator every name is replaced by its sanitized form, which only uses
// [A-Za-z0-9_] and never starts with a digit.
package formula

import (
	"cmp"
	"slices"
	"strings"
)

// Sanitize maps a raw name to an identifier: every character outside [A-Za-z0-9_]
// becomes '_' and a leading digit gets a '_' prefix. It is deterministic; distinct
// raw names may collide.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	for i, r := range name {
		if i == 0 && isDigit(r) {
			b.WriteByte('_')
		}
		if isIdentChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentChar(r rune) bool {
	return r == '_' || isDigit(r) || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// BudgetFigures are the per-budget values exposed to formulas.
type BudgetFigures struct {
	Name      string
	Amount    float64
	Spent     float64
	Remaining float64
}

// NamespaceInput lists the figures of one evaluation context by raw name.
type NamespaceInput struct {
	KPIs       map[string]float64
	Categories map[string]float64
	Budgets    []BudgetFigures
}

// Variable is one namespace entry.
type Variable struct {
	Name  string  `json:"name"` // sanitized
	Raw   string  `json:"raw"`
	Value float64 `json:"value"`
}

// Namespace maps sanitized names to values and back to the raw name they came from.
type Namespace struct {
	values map[string]float64
	raw    map[string]string
	// byLength holds raw names longest first, for rewriting expressions.
	byLength []string
}

func NewNamespace() *Namespace {
	return &Namespace{values: map[string]float64{}, raw: map[string]string{}}
}

// BuildNamespace registers KPIs, then categories, then budgets
// ("<name> amount", "<name> spent", "<name> remaining"). On a sanitized-name
// collision the first registration wins.
func BuildNamespace(in NamespaceInput) *Namespace {
	ns := NewNamespace()
	for _, k := range sortedKeys(in.KPIs) {
		ns.Set(k, in.KPIs[k])
	}
	for _, k := range sortedKeys(in.Categories) {
		ns.Set(k, in.Categories[k])
	}
	for _, b := range in.Budgets {
		ns.Set(b.Name+" amount", b.Amount)
		ns.Set(b.Name+" spent", b.Spent)
		ns.Set(b.Name+" remaining", b.Remaining)
	}
	return ns
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Set registers raw under its sanitized name. It reports false when the sanitized
// name is already taken.
func (ns *Namespace) Set(raw string, v float64) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	name := Sanitize(raw)
	if _, taken := ns.values[name]; taken {
		return false
	}
	ns.values[name] = v
	ns.raw[name] = raw
	ns.byLength = nil
	return true
}

// Lookup returns the value of a sanitized name.
func (ns *Namespace) Lookup(name string) (float64, bool) {
	v, ok := ns.values[name]
	return v, ok
}

// Raw returns the raw name behind a sanitized one.
func (ns *Namespace) Raw(name string) (string, bool) {
	r, ok := ns.raw[name]
	return r, ok
}

func (ns *Namespace) Len() int { return len(ns.values) }

// Variables lists the namespace ordered by sanitized name.
func (ns *Namespace) Variables() []Variable {
	out := make([]Variable, 0, len(ns.values))
	for name, v := range ns.values {
		out = append(out, Variable{Name: name, Raw: ns.raw[name], Value: v})
	}
	slices.SortFunc(out, func(a, b Variable) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (ns *Namespace) rawByLength() []string {
	if ns.byLength == nil {
		ns.byLength = make([]string, 0, len(ns.raw))
		for _, r := range ns.raw {
			ns.byLength = append(ns.byLength, r)
		}
		slices.SortFunc(ns.byLength, func(a, b string) int {
			return cmp.Or(cmp.Compare(len(b), len(a)), cmp.Compare(a, b))
		})
	}
	return ns.byLength
}

// ToSanitized rewrites the raw names in a user expression to their sanitized form.
// The longest raw name wins at each position, and a name only matches where it is
// not glued to surrounding identifier characters.
func (ns *Namespace) ToSanitized(expr string) string {
	names := ns.rawByLength()
	var b strings.Builder
	for i := 0; i < len(expr); {
		if i == 0 || !isIdentChar(rune(expr[i-1])) {
			if raw, ok := matchAt(expr, i, names); ok {
				b.WriteString(Sanitize(raw))
				i += len(raw)
				continue
			}
		}
		b.WriteByte(expr[i])
		i++
	}
	return b.String()
}

func matchAt(expr string, i int, names []string) (string, bool) {
	for _, raw := range names {
		if !strings.HasPrefix(expr[i:], raw) {
			continue
		}
		end := i + len(raw)
		if end < len(expr) && isIdentChar(rune(expr[end])) && isIdentChar(rune(raw[len(raw)-1])) {
			continue
		}
		return raw, true
	}
	return "", false
}

// ToDisplay rewrites sanitized identifiers back to the raw names they stand for.
// Identifiers not in the namespace are left as written.
func (ns *Namespace) ToDisplay(expr string) string {
	var b strings.Builder
	for i := 0; i < len(expr); {
		c := rune(expr[i])
		if !isIdentChar(c) {
			b.WriteByte(expr[i])
			i++
			continue
		}
		j := i
		for j < len(expr) && (isIdentChar(rune(expr[j])) || (isDigit(c) && expr[j] == '.')) {
			j++
		}
		word := expr[i:j]
		if raw, ok := ns.raw[word]; ok && !isDigit(c) {
			b.WriteString(raw)
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}
