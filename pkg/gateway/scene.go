package gateway

import "sort"

// SceneEntry is one {module, channel, state} triple from a scene
// definition (§6 scenes data model).
type SceneEntry struct {
	ModuleAddress string
	Channel       int
	Value         byte
}

// SceneStep is one coalesced group write: every channel of a single
// module+group touched by the scene, applied together (§4.4 batch-write
// rule: "group 1 then group 2, paced normally").
type SceneStep struct {
	ModuleAddress string
	Group         int
	Values        map[int]byte // channel -> value, 1-indexed
}

// PlanScene coalesces a flat list of scene entries into one SceneStep per
// module+group, ordered group 1 before group 2 within a module and modules
// in first-seen order, so a scene that spans multiple groups of the same
// 12-channel module never emits more than the two necessary writes.
func PlanScene(entries []SceneEntry) []SceneStep {
	type key struct {
		module string
		group  int
	}
	order := make([]key, 0, len(entries))
	steps := make(map[key]*SceneStep)
	moduleRank := make(map[string]int) // first-seen position of each module

	for _, e := range entries {
		if _, seen := moduleRank[e.ModuleAddress]; !seen {
			moduleRank[e.ModuleAddress] = len(moduleRank)
		}
		group := groupForChannel(e.Channel)
		k := key{e.ModuleAddress, group}
		step, ok := steps[k]
		if !ok {
			step = &SceneStep{ModuleAddress: e.ModuleAddress, Group: group, Values: make(map[int]byte)}
			steps[k] = step
			order = append(order, k)
		}
		step.Values[e.Channel] = e.Value
	}

	sort.SliceStable(order, func(i, j int) bool {
		if ri, rj := moduleRank[order[i].module], moduleRank[order[j].module]; ri != rj {
			return ri < rj // first-seen module order
		}
		return order[i].group < order[j].group
	})

	out := make([]SceneStep, 0, len(order))
	for _, k := range order {
		out = append(out, *steps[k])
	}
	return out
}
