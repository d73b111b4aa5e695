package fusion

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/impactengine/internal/domain"
)

// confidenceBoost is the per-agreeing-source confidence increment (spec §3,
// §4.5 step 3): confidence after fusing k agreeing sources is
// min(0.99, base + 0.15·(k-1)).
const confidenceBoost = 0.15

// confidenceCeiling caps fused confidence (spec §3).
const confidenceCeiling = 0.99

// Fuse merges every probe's raw output for sourceTicker into the fewest
// number of Relationship edges (spec §4.5, the Fusion Operator C5). Raw
// observations are grouped by (RelatedCompany, Type); each group collapses
// to one Relationship via MergeRelationship, applied pairwise.
//
// Fuse is a pure function: it reads only its arguments (now is used solely
// to stamp LastVerified), and produces no side effects.
func Fuse(sourceTicker string, raws []domain.RawRelationship, now time.Time) []domain.Relationship {
	type key struct {
		target string
		typ    domain.RelationshipType
	}
	groups := make(map[key][]domain.RawRelationship)
	var order []key
	for _, raw := range raws {
		k := key{target: raw.RelatedCompany, typ: raw.Type}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], raw)
	}

	out := make([]domain.Relationship, 0, len(order))
	for _, k := range order {
		var merged domain.Relationship
		for i, raw := range groups[k] {
			candidate := domain.Relationship{
				SourceTicker: sourceTicker,
				TargetTicker: raw.RelatedCompany,
				Type:         raw.Type,
				Criticality:  raw.Criticality,
				Evidence:     nonEmpty(raw.Evidence),
				Sources:      []domain.DiscoverySource{raw.Source},
				Confidence:   raw.Confidence,
				LastVerified: now,
			}
			if i == 0 {
				merged = candidate
				continue
			}
			merged = MergeRelationship(merged, candidate)
		}
		out = append(out, merged)
	}
	return out
}

// MergeRelationship combines two observations of the same edge into one
// (spec §3, §4.5 step 3, §8). When a and b share any source — for example a
// repeat observation of a source already folded in — the merge is idempotent
// and confidence only takes the max of the two, so MergeRelationship(r, r)
// reproduces r exactly. When none of b's sources is already in a,
// confidence advances by the additive boost
// min(0.99, max(a.Confidence, b.Confidence) + 0.15): fusing k agreeing
// sources produces min(0.99, base + 0.15·(k-1)), anchored on the max rather
// than whichever side happens to be `a`, which is what keeps the merge
// commutative. Criticality, evidence, and sources otherwise accumulate
// monotonically.
func MergeRelationship(a, b domain.Relationship) domain.Relationship {
	merged := a
	if sourcesOverlap(a.Sources, b.Sources) {
		if b.Confidence > merged.Confidence {
			merged.Confidence = b.Confidence
		}
	} else {
		base := merged.Confidence
		if b.Confidence > base {
			base = b.Confidence
		}
		merged.Confidence = math.Min(confidenceCeiling, base+confidenceBoost)
	}
	if b.Criticality.Outranks(merged.Criticality) {
		merged.Criticality = b.Criticality
	}
	merged.Evidence = mergeUniqueStrings(a.Evidence, b.Evidence)
	merged.Sources = mergeUniqueSources(a.Sources, b.Sources)
	if b.LastVerified.After(merged.LastVerified) {
		merged.LastVerified = b.LastVerified
	}
	return merged
}

// sourcesOverlap reports whether any source in b is already present in a —
// i.e. b is (at least partly) a repeat observation rather than a distinct
// agreeing source.
func sourcesOverlap(a, b []domain.DiscoverySource) bool {
	seen := make(map[domain.DiscoverySource]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; ok {
			return true
		}
	}
	return false
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func mergeUniqueStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range b {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func mergeUniqueSources(a, b []domain.DiscoverySource) []domain.DiscoverySource {
	seen := make(map[domain.DiscoverySource]struct{}, len(a)+len(b))
	out := make([]domain.DiscoverySource, 0, len(a)+len(b))
	for _, v := range append(append([]domain.DiscoverySource{}, a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
