package ayumi

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/progress"
)

type Step struct {
	Unit      migration.Ref
	Direction migration.Direction
}

// Plan is the ordered work of one run. It is derived on every invocation
// and never stored.
type Plan struct {
	Direction migration.Direction
	Steps     []Step
}

func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

func (p Plan) Refs() []migration.Ref {
	refs := make([]migration.Ref, len(p.Steps))
	for i, s := range p.Steps {
		refs[i] = s.Unit
	}
	return refs
}

// NewPlan selects the units to run. Up takes unapplied units in ascending key
// order, Down takes applied ones in descending order; either stops at target
// inclusively. A target that is already in the requested state gives an
// empty plan. An empty dir means Up.
func NewPlan(catalog []migration.Ref, applied []progress.Entry, dir migration.Direction, target string) (Plan, error) {
	if dir == 0 {
		dir = migration.Up
	}

	var targetRef migration.Ref
	if target != "" {
		ref, ok := ResolveTarget(catalog, target)
		if !ok {
			return Plan{}, &UnknownTargetError{Target: target}
		}
		targetRef = ref
	}

	isApplied := make(map[string]bool, len(applied))
	for _, e := range applied {
		isApplied[e.ID] = true
	}

	candidates := make([]migration.Ref, 0, len(catalog))
	for _, ref := range catalog {
		if isApplied[ref.ID] == (dir == migration.Down) {
			candidates = append(candidates, ref)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if dir == migration.Down {
			return candidates[i].Key > candidates[j].Key
		}
		return candidates[i].Key < candidates[j].Key
	})

	if target != "" {
		end := -1
		for i, ref := range candidates {
			if ref.ID == targetRef.ID {
				end = i
				break
			}
		}
		candidates = candidates[:end+1]
	}

	plan := Plan{
		Direction: dir,
		Steps:     make([]Step, 0, len(candidates)),
	}
	for _, ref := range candidates {
		plan.Steps = append(plan.Steps, Step{Unit: ref, Direction: dir})
	}

	return plan, nil
}

// ResolveTarget finds the unit named by target: its ID ("0002-add-users"),
// its file name, optionally with a directory ("migrations/0002-add-users.sql"),
// or its numeric key ("2", "0002").
func ResolveTarget(catalog []migration.Ref, target string) (migration.Ref, bool) {
	for _, ref := range catalog {
		if ref.ID == target {
			return ref, true
		}
	}

	base := filepath.Base(target)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	for _, ref := range catalog {
		if ref.ID == base {
			return ref, true
		}
	}

	if key, err := strconv.ParseUint(target, 10, migration.KeyBits); err == nil {
		for _, ref := range catalog {
			if uint64(ref.Key) == key {
				return ref, true
			}
		}
	}

	return migration.Ref{}, false
}
