package graph

import (
	"github.com/Iron-Ham/storyloop/internal/plan"
)

// Analysis summarizes the schedule of a plan.
type Analysis struct {
	ItemCount    int
	BatchCount   int
	MaxBatchSize int
	// CriticalPath runs from the deepest item back to its root, e.g. [C B A]
	// for the chain A <- B <- C.
	CriticalPath []string
	Batches      []Batch
}

// Analyze builds the plan's batches and computes its critical path.
func Analyze(p *plan.WorkPlan) (*Analysis, error) {
	batches, err := Build(p)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		ItemCount:    len(p.Items),
		BatchCount:   len(batches),
		Batches:      batches,
		CriticalPath: criticalPath(p),
	}
	for _, b := range batches {
		a.MaxBatchSize = max(a.MaxBatchSize, len(b.Items))
	}
	return a, nil
}

// CriticalPath returns the longest dependency chain in the plan, starting
// at the deepest item and walking back to a root. Ties, both when picking
// the start and at each step, go to the lexicographically lowest ID.
func CriticalPath(p *plan.WorkPlan) ([]string, error) {
	if _, err := Build(p); err != nil {
		return nil, err
	}
	return criticalPath(p), nil
}

// Depths returns each item's depth: 1 for items without dependencies,
// otherwise one more than the deepest dependency. The plan must be acyclic.
func Depths(p *plan.WorkPlan) map[string]int {
	depth := make(map[string]int, len(p.Items))

	var visit func(id string) int
	visit = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 1
		if item := p.Item(id); item != nil {
			for _, dep := range item.DependsOn {
				d = max(d, visit(dep)+1)
			}
		}
		depth[id] = d
		return d
	}

	for _, item := range p.Items {
		visit(item.ID)
	}
	return depth
}

func criticalPath(p *plan.WorkPlan) []string {
	if len(p.Items) == 0 {
		return nil
	}
	depth := Depths(p)

	start := ""
	for _, item := range p.Items {
		if start == "" || deeper(item.ID, start, depth) {
			start = item.ID
		}
	}

	path := []string{start}
	for cur := p.Item(start); cur != nil && len(cur.DependsOn) > 0; {
		next := ""
		for _, dep := range cur.DependsOn {
			if next == "" || deeper(dep, next, depth) {
				next = dep
			}
		}
		path = append(path, next)
		cur = p.Item(next)
	}
	return path
}

// deeper reports whether a should be preferred over b on the critical path.
func deeper(a, b string, depth map[string]int) bool {
	if depth[a] != depth[b] {
		return depth[a] > depth[b]
	}
	return a < b
}
