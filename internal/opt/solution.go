package opt

import "math/rand"

// Solution is a visiting sequence. Non-negative genes are order indices; each negative gene
// is a distinct separator closing one sub-route and opening the next.
type Solution []int

// NewRandomSolution shuffles all order indices together with groupCount-1 separators.
func NewRandomSolution(orderCount, groupCount int, rng *rand.Rand) Solution {
	seps := groupCount - 1
	if seps < 0 {
		seps = 0
	}
	s := make(Solution, 0, orderCount+seps)
	for i := 0; i < orderCount; i++ {
		s = append(s, i)
	}
	for i := 0; i < seps; i++ {
		s = append(s, -1-i)
	}
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
	return s
}

// Copy returns an independent copy.
func (s Solution) Copy() Solution {
	return append(Solution(nil), s...)
}

// Swap exchanges the genes at positions i and j in place.
func (s Solution) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// Groups splits the sequence at separators. The result always has one more group than
// there are separators; groups may be empty.
func (s Solution) Groups() [][]int {
	groups := [][]int{{}}
	for _, g := range s {
		if g < 0 {
			groups = append(groups, []int{})
			continue
		}
		last := len(groups) - 1
		groups[last] = append(groups[last], g)
	}
	return groups
}
