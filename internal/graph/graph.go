// Package graph turns a validated work plan into an ordered sequence of
// batches and computes its critical path.
//
// Batches are formed by iterative frontier expansion: each batch holds every
// item whose dependencies were all placed in earlier batches. Items in the
// same batch are independent of one another and may run concurrently.
package graph

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/storyloop/internal/plan"
)

// ErrCircularDependency is wrapped by *CircularDependencyError.
var ErrCircularDependency = errors.New("circular dependency")

// CircularDependencyError reports that no further batch could be formed
// while items remained unscheduled.
type CircularDependencyError struct {
	// Unscheduled lists the items that could never become ready, in plan order.
	Unscheduled []string
	// Cycle is one concrete cycle among them, first id repeated at the end
	// (e.g. [a b a]). Empty if items are only blocked behind a cycle.
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("circular dependency: cannot schedule %s", strings.Join(e.Unscheduled, ", "))
}

func (e *CircularDependencyError) Unwrap() error {
	return ErrCircularDependency
}

// Batch is a set of items whose dependencies are satisfied by prior batches.
type Batch struct {
	// Number is 1-based.
	Number int
	Items  []plan.WorkItem
	// Parallel is true iff the batch has more than one item.
	Parallel bool
}

// IDs returns the batch's item IDs in execution order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Items))
	for i, item := range b.Items {
		ids[i] = item.ID
	}
	return ids
}

// Build validates the plan and computes its batches.
//
// Within a batch, items are ordered by descending priority; equal
// priorities keep their order in the plan document, and items at the same
// position (impossible after validation) fall back to ID order.
//
// Returns the plan's *plan.ValidationError for structurally invalid plans
// and *CircularDependencyError when a cycle prevents scheduling. In both
// cases no batches are returned.
func Build(p *plan.WorkPlan) ([]Batch, error) {
	if err := plan.Check(p); err != nil {
		return nil, err
	}

	index := p.Index()
	placed := make(map[string]bool, len(p.Items))
	var batches []Batch

	for len(placed) < len(p.Items) {
		var ready []plan.WorkItem
		for _, item := range p.Items {
			if placed[item.ID] {
				continue
			}
			if dependenciesPlaced(item, placed) {
				ready = append(ready, item)
			}
		}

		if len(ready) == 0 {
			return nil, newCircularError(p, placed)
		}

		sortBatch(ready, index)
		// Mark only after the whole frontier is collected so that items in
		// the same batch never satisfy each other.
		for _, item := range ready {
			placed[item.ID] = true
		}

		batches = append(batches, Batch{
			Number:   len(batches) + 1,
			Items:    ready,
			Parallel: len(ready) > 1,
		})
	}

	return batches, nil
}

func dependenciesPlaced(item plan.WorkItem, placed map[string]bool) bool {
	for _, dep := range item.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

func sortBatch(items []plan.WorkItem, index map[string]int) {
	slices.SortStableFunc(items, func(a, b plan.WorkItem) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(index[a.ID], index[b.ID]); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func newCircularError(p *plan.WorkPlan, placed map[string]bool) *CircularDependencyError {
	var unscheduled []string
	for _, item := range p.Items {
		if !placed[item.ID] {
			unscheduled = append(unscheduled, item.ID)
		}
	}
	return &CircularDependencyError{
		Unscheduled: unscheduled,
		Cycle:       findCycle(p, placed),
	}
}

// findCycle runs a DFS over the unscheduled items and returns the first
// cycle found, reconstructed through the parent chain.
func findCycle(p *plan.WorkPlan, placed map[string]bool) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true

		item := p.Item(id)
		for _, dep := range item.DependsOn {
			if placed[dep] {
				continue
			}
			if !visited[dep] {
				parent[dep] = id
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				cycle := []string{dep}
				for cur := id; cur != dep; cur = parent[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				return append([]string{dep}, cycle...)
			}
		}

		onStack[id] = false
		return nil
	}

	for _, item := range p.Items {
		if placed[item.ID] || visited[item.ID] {
			continue
		}
		if cycle := dfs(item.ID); cycle != nil {
			return cycle
		}
	}
	return nil
}
