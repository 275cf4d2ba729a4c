// Package policy computes which resources are safe to delete under a
// tenant's per-resource-type cleanup rules.
package policy

import (
	"time"

	"github.com/cloudreap/cloudreap/config"
	"github.com/cloudreap/cloudreap/tracking"
	"github.com/cloudreap/cloudreap/types"
)

// SkipReason explains why a resource was not selected.
type SkipReason string

const (
	SkipExcluded   SkipReason = "excluded"
	SkipTooYoung   SkipReason = "too-young"
	SkipInUse      SkipReason = "in-use"
	SkipInFlight   SkipReason = "in-flight"
	SkipAgeUnknown SkipReason = "age-unknown"
)

// Skip pairs a resource with the rule that spared it.
type Skip struct {
	Resource types.Resource
	Reason   SkipReason
}

// Evaluator filters resource lists down to deletion candidates. It only
// reads the tracking store; all writes happen elsewhere.
type Evaluator struct {
	tracker tracking.Tracker
}

// NewEvaluator creates an evaluator backed by the given tracker.
func NewEvaluator(tracker tracking.Tracker) *Evaluator {
	return &Evaluator{tracker: tracker}
}

// Candidates returns the resources eligible for deletion plus the skips for
// logging. A resource is a candidate when no exclude pattern matches its
// name, its age meets the threshold (boundary inclusive), it is not in use
// when the policy is usage-gated, and no live deletion attempt holds it.
// Candidates are unordered; all are equally eligible.
func (e *Evaluator) Candidates(tenant string, resources []types.Resource, pol *config.ResourcePolicy, now time.Time) ([]types.Resource, []Skip) {
	var candidates []types.Resource
	var skips []Skip

	for _, res := range resources {
		if reason, skip := e.shouldSkip(tenant, res, pol, now); skip {
			skips = append(skips, Skip{Resource: res, Reason: reason})
			continue
		}
		candidates = append(candidates, res)
	}

	return candidates, skips
}

func (e *Evaluator) shouldSkip(tenant string, res types.Resource, pol *config.ResourcePolicy, now time.Time) (SkipReason, bool) {
	if pol.Excluded(res.Name) {
		return SkipExcluded, true
	}

	birth, known := e.birthTime(tenant, res)
	if !known {
		// Fail safe: without a creation time the age rule cannot be
		// applied, so the resource is never a candidate.
		return SkipAgeUnknown, true
	}
	if now.Sub(birth) < pol.MaxAge() {
		return SkipTooYoung, true
	}

	if pol.RemoveOnlyIfUnused && res.InUse {
		return SkipInUse, true
	}

	if e.tracker.IsInFlight(tenant, res.Type, res.ID, now) {
		return SkipInFlight, true
	}

	return "", false
}

// birthTime prefers the API's creation timestamp. Types that have none
// (Nova key-pairs) fall back to when the daemon first observed the resource.
func (e *Evaluator) birthTime(tenant string, res types.Resource) (time.Time, bool) {
	if res.HasCreatedAt() {
		return res.CreatedAt, true
	}
	row, found := e.tracker.Get(tenant, res.Type, res.ID)
	if found && !row.FirstSeen.IsZero() {
		return row.FirstSeen, true
	}
	return time.Time{}, false
}
