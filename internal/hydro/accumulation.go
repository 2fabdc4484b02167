package hydro

import (
	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
)

// Accumulate counts contributing cells (the cell itself included) in
// topological order. Cells are processed once all their upstream neighbours
// are done; a leftover cell means the direction graph has a cycle.
func Accumulate(f *FlowGrid) ([]int, error) {
	n := len(f.Dir)
	acc := make([]int, n)
	indeg := make([]int32, n)
	valid := 0
	for i := 0; i < n; i++ {
		if !f.Valid(i) {
			continue
		}
		valid++
		acc[i] = 1
		if d := f.Downstream(i); d >= 0 {
			indeg[d]++
		}
	}

	queue := make([]int, 0, n/4+1)
	for i := 0; i < n; i++ {
		if f.Valid(i) && indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	processed := 0
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		processed++
		d := f.Downstream(i)
		if d < 0 {
			continue
		}
		acc[d] += acc[i]
		indeg[d]--
		if indeg[d] == 0 {
			queue = append(queue, d)
		}
	}
	if processed != valid {
		return nil, apperr.Ef(apperr.ComputationError, "flow directions contain a cycle (%d of %d cells ordered)", processed, valid)
	}
	return acc, nil
}
