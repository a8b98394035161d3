// Package quota plans which experiences stay enabled under a capacity or budget limit.
package quota

import (
	"sort"

	"github.com/qs3c/experience_billing/internal/model"
)

// byCreation orders experiences oldest first, ties broken by id.
func byCreation(exps []model.Experience) []model.Experience {
	out := make([]model.Experience, len(exps))
	copy(out, exps)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EnabledCount counts experiences that occupy a capacity slot.
func EnabledCount(exps []model.Experience) int {
	n := 0
	for i := range exps {
		if exps[i].IsEnabled() {
			n++
		}
	}
	return n
}

// PlanDisable returns the enabled experiences beyond capacity, keeping the oldest.
func PlanDisable(exps []model.Experience, capacity int) []int64 {
	if capacity < 0 {
		capacity = 0
	}
	var ids []int64
	kept := 0
	for _, e := range byCreation(exps) {
		if !e.IsEnabled() {
			continue
		}
		kept++
		if kept > capacity {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// PlanDisableAll returns every enabled experience.
func PlanDisableAll(exps []model.Experience) []int64 {
	var ids []int64
	for _, e := range byCreation(exps) {
		if e.IsEnabled() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// PlanRestore returns disabled experiences to re-enable into the free slots, those disabled
// for capacity (IsLastUsed) first. Rejected and deleted experiences are never picked.
func PlanRestore(exps []model.Experience, capacity int) []int64 {
	free := capacity - EnabledCount(exps)
	if free <= 0 {
		return nil
	}

	var preferred, others []int64
	for _, e := range byCreation(exps) {
		if e.Status != model.ExperienceDisabled {
			continue
		}
		if e.IsLastUsed {
			preferred = append(preferred, e.ID)
		} else {
			others = append(others, e.ID)
		}
	}

	candidates := append(preferred, others...)
	if len(candidates) > free {
		candidates = candidates[:free]
	}
	return candidates
}
