// Package merge implements Merge, a value that is either resolved or an
// N-sided conflict made of N "adds" interleaved with N-1 "removes" (bases).
//
// Terms are stored as [add0, remove0, add1, remove1, ..., addN-1]. The
// represented value is conceptually add0 - remove0 + add1 - ... + addN-1.
package merge

import (
	"fmt"
	"slices"
)

// Merge is a resolved value or a conflict. The zero value is invalid; use
// Resolved, FromRemovesAdds or FromTerms.
type Merge[T any] struct {
	terms []T
}

// Resolved returns a merge with a single side.
func Resolved[T any](v T) Merge[T] {
	return Merge[T]{terms: []T{v}}
}

// FromTerms builds a merge from interleaved terms. len(terms) must be odd.
func FromTerms[T any](terms []T) Merge[T] {
	if len(terms)%2 != 1 {
		panic(fmt.Sprintf("merge must have an odd number of terms, got %d", len(terms)))
	}
	return Merge[T]{terms: slices.Clone(terms)}
}

// FromRemovesAdds interleaves removes and adds. len(adds) must be len(removes)+1.
func FromRemovesAdds[T any](removes, adds []T) Merge[T] {
	if len(adds) != len(removes)+1 {
		panic(fmt.Sprintf("merge needs one more add than removes, got %d adds and %d removes", len(adds), len(removes)))
	}
	terms := make([]T, 0, len(adds)+len(removes))
	for i, a := range adds {
		terms = append(terms, a)
		if i < len(removes) {
			terms = append(terms, removes[i])
		}
	}
	return Merge[T]{terms: terms}
}

// Repeat returns an n-sided merge where every term is v.
func Repeat[T any](v T, numSides int) Merge[T] {
	terms := make([]T, 2*numSides-1)
	for i := range terms {
		terms[i] = v
	}
	return Merge[T]{terms: terms}
}

// NumSides returns the number of adds.
func (m Merge[T]) NumSides() int { return (len(m.terms) + 1) / 2 }

// IsResolved reports whether the merge has a single side.
func (m Merge[T]) IsResolved() bool { return len(m.terms) == 1 }

// AsResolved returns the value of a resolved merge.
func (m Merge[T]) AsResolved() (T, bool) {
	if len(m.terms) == 1 {
		return m.terms[0], true
	}
	var zero T
	return zero, false
}

// First returns the first add.
func (m Merge[T]) First() T { return m.terms[0] }

// Terms returns the interleaved terms. The slice must not be modified.
func (m Merge[T]) Terms() []T { return m.terms }

// Adds returns the adds in order.
func (m Merge[T]) Adds() []T {
	out := make([]T, 0, m.NumSides())
	for i := 0; i < len(m.terms); i += 2 {
		out = append(out, m.terms[i])
	}
	return out
}

// Removes returns the removes in order.
func (m Merge[T]) Removes() []T {
	out := make([]T, 0, m.NumSides()-1)
	for i := 1; i < len(m.terms); i += 2 {
		out = append(out, m.terms[i])
	}
	return out
}

// GetAdd returns the i-th add.
func (m Merge[T]) GetAdd(i int) T { return m.terms[2*i] }

// GetRemove returns the i-th remove.
func (m Merge[T]) GetRemove(i int) T { return m.terms[2*i+1] }

// Pad expands a resolved merge to numSides sides. Conflicts must already have
// numSides sides.
func (m Merge[T]) Pad(numSides int) (Merge[T], error) {
	if m.NumSides() == numSides {
		return m, nil
	}
	if v, ok := m.AsResolved(); ok {
		return Repeat(v, numSides), nil
	}
	return m, fmt.Errorf("cannot pad %d-sided conflict to %d sides", m.NumSides(), numSides)
}

// Map applies f to every term.
func Map[T, U any](m Merge[T], f func(T) U) Merge[U] {
	out := make([]U, len(m.terms))
	for i, t := range m.terms {
		out[i] = f(t)
	}
	return Merge[U]{terms: out}
}

// TryMap applies f to every term and stops at the first error.
func TryMap[T, U any](m Merge[T], f func(T) (U, error)) (Merge[U], error) {
	out := make([]U, len(m.terms))
	for i, t := range m.terms {
		u, err := f(t)
		if err != nil {
			return Merge[U]{}, err
		}
		out[i] = u
	}
	return Merge[U]{terms: out}, nil
}

// Equal compares two merges term by term.
func Equal[T comparable](a, b Merge[T]) bool {
	return slices.Equal(a.terms, b.terms)
}

// ResolveTrivial cancels out equal adds and removes. If a single add remains,
// or all remaining adds are the same value (every side made the same change),
// that value is returned.
func ResolveTrivial[T comparable](m Merge[T]) (T, bool) {
	if v, ok := m.AsResolved(); ok {
		return v, true
	}
	adds := m.Adds()
	removes := m.Removes()
	adds, removes = cancelPairs(adds, removes, func(v T) T { return v })

	var zero T
	switch {
	case len(adds) == 1:
		return adds[0], true
	case len(adds) > 1 && allEqual(adds):
		// Everyone made the same change. The removes are whatever they changed from.
		if len(removes) > 0 && allEqual(removes) {
			return adds[0], true
		}
		return zero, false
	default:
		return zero, false
	}
}

func allEqual[T comparable](values []T) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func cancelPairs[T any, K comparable](adds, removes []T, key func(T) K) ([]T, []T) {
	adds = slices.Clone(adds)
	removes = slices.Clone(removes)
	for i := 0; i < len(removes); {
		k := key(removes[i])
		j := slices.IndexFunc(adds, func(a T) bool { return key(a) == k })
		if j < 0 {
			i++
			continue
		}
		adds = slices.Delete(adds, j, j+1)
		removes = slices.Delete(removes, i, i+1)
	}
	return adds, removes
}

// Simplification records which terms of a merge survived SimplifyBy, so the
// simplified merge can be mapped back onto the original shape.
type Simplification struct {
	numSides int
	adds     []int
	removes  []int
}

// SimplifyBy removes pairs of an add and a remove whose keys are equal.
func SimplifyBy[T any, K comparable](m Merge[T], key func(T) K) (Merge[T], Simplification) {
	s := Simplification{numSides: m.NumSides()}
	for i := range m.NumSides() {
		s.adds = append(s.adds, i)
	}
	for i := range m.NumSides() - 1 {
		s.removes = append(s.removes, i)
	}
	for ri := 0; ri < len(s.removes); {
		k := key(m.GetRemove(s.removes[ri]))
		ai := slices.IndexFunc(s.adds, func(a int) bool { return key(m.GetAdd(a)) == k })
		if ai < 0 {
			ri++
			continue
		}
		s.adds = slices.Delete(s.adds, ai, ai+1)
		s.removes = slices.Delete(s.removes, ri, ri+1)
	}
	return Select(m, s), s
}

// Simplify is SimplifyBy using the values themselves as keys.
func Simplify[T comparable](m Merge[T]) Merge[T] {
	out, _ := SimplifyBy(m, func(v T) T { return v })
	return out
}

// Select applies a simplification computed on a parallel merge (same shape as m).
func Select[T any](m Merge[T], s Simplification) Merge[T] {
	adds := make([]T, len(s.adds))
	for i, a := range s.adds {
		adds[i] = m.GetAdd(a)
	}
	removes := make([]T, len(s.removes))
	for i, r := range s.removes {
		removes[i] = m.GetRemove(r)
	}
	return FromRemovesAdds(removes, adds)
}

// Unsimplify writes the terms of an updated simplified merge back into the
// original merge. A resolved update replaces the whole merge.
func Unsimplify[T any](original Merge[T], s Simplification, updated Merge[T]) Merge[T] {
	if updated.IsResolved() {
		return updated
	}
	if updated.NumSides() != len(s.adds) {
		panic(fmt.Sprintf("updated merge has %d sides, simplification kept %d", updated.NumSides(), len(s.adds)))
	}
	terms := slices.Clone(original.terms)
	for i, a := range s.adds {
		terms[2*a] = updated.GetAdd(i)
	}
	for i, r := range s.removes {
		terms[2*r+1] = updated.GetRemove(i)
	}
	return Merge[T]{terms: terms}
}

// String renders the merge for debugging and error messages.
func (m Merge[T]) String() string {
	if v, ok := m.AsResolved(); ok {
		return fmt.Sprintf("Resolved(%v)", v)
	}
	return fmt.Sprintf("Conflict(adds=%v, removes=%v)", m.Adds(), m.Removes())
}
