package parcel

import (
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Step is one immutable node of the schema evolution ledger. A step with an
// empty Revert is apply-only. Merge steps carry no SQL of their own; they
// exist solely to reconcile divergent branches.
type Step struct {
	ID      string
	Parents []string
	Merge   bool
	Apply   string
	Revert  string
}

// Reversible reports whether the step defines an exact inverse.
func (s *Step) Reversible() bool {
	return s.Merge || s.Revert != ""
}

type manifest struct {
	Steps []manifestStep `yaml:"steps"`
}

type manifestStep struct {
	ID      string   `yaml:"id"`
	Parents []string `yaml:"parents"`
	Merge   bool     `yaml:"merge"`
	Apply   string   `yaml:"apply"`
	Revert  string   `yaml:"revert"`
}

// Ledger is the validated DAG of migration steps.
type Ledger struct {
	steps    map[string]*Step
	children map[string][]string
	order    []string // topological, deterministic
	heads    []string
}

// LoadLedger parses the embedded ledger manifest, reads each step's SQL, and
// validates the DAG structure.
func LoadLedger() (*Ledger, error) {
	return parseLedger(migrationFS)
}

func parseLedger(fsys fs.FS) (*Ledger, error) {
	data, err := fs.ReadFile(fsys, "migrations/ledger.yaml")
	if err != nil {
		return nil, eris.Wrap(err, "ledger: read manifest")
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "ledger: parse manifest")
	}
	if len(m.Steps) == 0 {
		return nil, eris.New("ledger: manifest has no steps")
	}

	led := &Ledger{
		steps:    make(map[string]*Step, len(m.Steps)),
		children: make(map[string][]string),
	}

	for _, ms := range m.Steps {
		if ms.ID == "" {
			return nil, eris.New("ledger: step with empty id")
		}
		if _, dup := led.steps[ms.ID]; dup {
			return nil, eris.Errorf("ledger: duplicate step id %q", ms.ID)
		}

		step := &Step{ID: ms.ID, Parents: ms.Parents, Merge: ms.Merge}

		if ms.Merge {
			if len(ms.Parents) < 2 {
				return nil, eris.Errorf("ledger: merge step %q needs at least two parents", ms.ID)
			}
			if ms.Apply != "" || ms.Revert != "" {
				return nil, eris.Errorf("ledger: merge step %q must not carry SQL", ms.ID)
			}
		} else {
			if len(ms.Parents) > 1 {
				return nil, eris.Errorf("ledger: step %q has multiple parents but is not a merge step", ms.ID)
			}
			if ms.Apply == "" {
				return nil, eris.Errorf("ledger: step %q has no apply file", ms.ID)
			}
			apply, err := fs.ReadFile(fsys, "migrations/"+ms.Apply)
			if err != nil {
				return nil, eris.Wrapf(err, "ledger: read apply SQL for %q", ms.ID)
			}
			step.Apply = string(apply)

			if ms.Revert != "" {
				revert, err := fs.ReadFile(fsys, "migrations/"+ms.Revert)
				if err != nil {
					return nil, eris.Wrapf(err, "ledger: read revert SQL for %q", ms.ID)
				}
				step.Revert = string(revert)
			}
		}

		led.steps[ms.ID] = step
	}

	for id, step := range led.steps {
		for _, p := range step.Parents {
			if _, ok := led.steps[p]; !ok {
				return nil, eris.Errorf("ledger: step %q references unknown parent %q", id, p)
			}
			led.children[p] = append(led.children[p], id)
		}
	}
	for _, kids := range led.children {
		sort.Strings(kids)
	}

	if err := led.topoSort(); err != nil {
		return nil, err
	}

	for _, id := range led.order {
		if len(led.children[id]) == 0 {
			led.heads = append(led.heads, id)
		}
	}
	sort.Strings(led.heads)

	return led, nil
}

// topoSort orders steps parents-first (Kahn's algorithm, lexicographic
// tie-break for determinism) and rejects cycles.
func (l *Ledger) topoSort() error {
	indeg := make(map[string]int, len(l.steps))
	for id, step := range l.steps {
		indeg[id] = len(step.Parents)
	}

	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(l.steps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, child := range l.children[id] {
			indeg[child]--
			if indeg[child] == 0 {
				ready = append(ready, child)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(l.steps) {
		return eris.New("ledger: cycle detected in migration DAG")
	}

	l.order = order
	return nil
}

// Steps returns all steps in topological order.
func (l *Ledger) Steps() []*Step {
	out := make([]*Step, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.steps[id])
	}
	return out
}

// Step returns the step with the given id.
func (l *Ledger) Step(id string) (*Step, bool) {
	s, ok := l.steps[id]
	return s, ok
}

// Heads returns all steps with no successors.
func (l *Ledger) Heads() []string {
	return append([]string(nil), l.heads...)
}

// Head returns the single target head. Two unreconciled heads mean the
// ledger is in conflict and nothing may be applied.
func (l *Ledger) Head() (string, error) {
	if len(l.heads) != 1 {
		return "", eris.Wrapf(ErrMigrationConflict, "ledger has %d heads %v", len(l.heads), l.heads)
	}
	return l.heads[0], nil
}

// Lineage returns the target step and all of its ancestors in topological
// order: exactly the steps that must be applied to reach target.
func (l *Ledger) Lineage(target string) ([]string, error) {
	if _, ok := l.steps[target]; !ok {
		return nil, eris.Errorf("ledger: unknown step %q", target)
	}

	want := map[string]bool{}
	var mark func(id string)
	mark = func(id string) {
		if want[id] {
			return
		}
		want[id] = true
		for _, p := range l.steps[id].Parents {
			mark(p)
		}
	}
	mark(target)

	var lineage []string
	for _, id := range l.order {
		if want[id] {
			lineage = append(lineage, id)
		}
	}
	return lineage, nil
}
