package plan

// Priority bounds for work items. Higher values run first within a batch.
const (
	MinPriority = 1
	MaxPriority = 10
)

// WorkItem is a schedulable unit of work with acceptance criteria,
// a priority, an assigned worker and a set of dependencies.
type WorkItem struct {
	// ID uniquely identifies the item within its plan.
	ID string `yaml:"id" json:"id"`

	// Title is a short human-readable name.
	Title string `yaml:"title" json:"title"`

	// Description is the full statement of work handed to the worker.
	Description string `yaml:"description" json:"description"`

	// AcceptanceCriteria lists the conditions that must hold when the item
	// is done. Must not be empty.
	AcceptanceCriteria []string `yaml:"acceptance_criteria" json:"acceptance_criteria"`

	// Priority is in [MinPriority, MaxPriority].
	Priority int `yaml:"priority" json:"priority"`

	// Worker names the worker capability that executes the item.
	Worker string `yaml:"worker,omitempty" json:"worker,omitempty"`

	// DependsOn lists IDs of items that must complete first.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Passes records whether the item was last seen passing.
	Passes bool `yaml:"passes" json:"passes"`

	// Notes is free text carried along with the item.
	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// WorkPlan is the full set of work items plus project metadata for one
// session. It is produced by an external planning step.
type WorkPlan struct {
	Project     string     `yaml:"project" json:"project"`
	Branch      string     `yaml:"branch" json:"branch"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Items       []WorkItem `yaml:"items" json:"items"`
}

// Item returns a pointer to the item with the given ID, or nil.
func (p *WorkPlan) Item(id string) *WorkItem {
	if p == nil {
		return nil
	}
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i]
		}
	}
	return nil
}

// IDs returns the item IDs in document order.
func (p *WorkPlan) IDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.ID
	}
	return ids
}

// Index returns a map from item ID to its position in the document.
// Positions are used as a deterministic tie-breaker by the scheduler.
func (p *WorkPlan) Index() map[string]int {
	idx := make(map[string]int, len(p.Items))
	for i, item := range p.Items {
		if _, seen := idx[item.ID]; !seen {
			idx[item.ID] = i
		}
	}
	return idx
}
