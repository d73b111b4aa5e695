package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/impactengine/internal/domain"
)

func TestFuse_CollapsesMultiProbeObservationsOfSameEdge(t *testing.T) {
	now := time.Now()
	raws := []domain.RawRelationship{
		{RelatedCompany: "ACME", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityMedium, Evidence: "10-K risk section", Source: domain.SourceSECEdgar, Confidence: 0.92},
		{RelatedCompany: "ACME", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityHigh, Evidence: "co-mentioned in article", Source: domain.SourceNewsReport, Confidence: 0.70},
		{RelatedCompany: "GLOBEX", Type: domain.RelationshipCustomer, Criticality: domain.CriticalityLow, Evidence: "llm guess", Source: domain.SourceLLMInference, Confidence: 0.45},
	}

	out := Fuse("XYZ", raws, now)

	assert.Len(t, out, 2)

	var acme, globex domain.Relationship
	for _, r := range out {
		switch r.TargetTicker {
		case "ACME":
			acme = r
		case "GLOBEX":
			globex = r
		}
	}

	assert.Equal(t, 0.99, acme.Confidence, "a second agreeing source boosts confidence by 0.15 over the max of the two, capped at 0.99")
	assert.Equal(t, domain.CriticalityHigh, acme.Criticality, "criticality should take the outranking value")
	assert.ElementsMatch(t, []string{"10-K risk section", "co-mentioned in article"}, acme.Evidence)
	assert.ElementsMatch(t, []domain.DiscoverySource{domain.SourceSECEdgar, domain.SourceNewsReport}, acme.Sources)

	assert.Equal(t, 0.45, globex.Confidence)
	assert.Equal(t, domain.RelationshipCustomer, globex.Type)
}

func TestFuse_ThreeAgreeingSourcesBoostConfidenceTwice(t *testing.T) {
	now := time.Now()
	raws := []domain.RawRelationship{
		{RelatedCompany: "AAPL", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityHigh, Source: domain.SourceSECEdgar, Confidence: 0.92},
		{RelatedCompany: "AAPL", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityMedium, Source: domain.SourceNewsReport, Confidence: 0.70},
		{RelatedCompany: "AAPL", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityHigh, Source: domain.SourceLLMInference, Confidence: 0.45},
	}

	out := Fuse("TSM", raws, now)

	require.Len(t, out, 1)
	assert.Equal(t, 0.99, out[0].Confidence, "min(0.99, 0.92 + 0.15 + 0.15) = 0.99")
	assert.Equal(t, domain.CriticalityHigh, out[0].Criticality)
	assert.ElementsMatch(t, []domain.DiscoverySource{domain.SourceSECEdgar, domain.SourceNewsReport, domain.SourceLLMInference}, out[0].Sources)
}

func TestMergeRelationship_NeverRegressesConfidenceOrCriticality(t *testing.T) {
	base := domain.Relationship{
		SourceTicker: "A", TargetTicker: "B", Type: domain.RelationshipSupplier,
		Criticality: domain.CriticalityHigh, Confidence: 0.8,
		Evidence: []string{"e1"}, Sources: []domain.DiscoverySource{domain.SourceSECEdgar},
		LastVerified: time.Now().Add(-time.Hour),
	}
	weaker := domain.Relationship{
		SourceTicker: "A", TargetTicker: "B", Type: domain.RelationshipSupplier,
		Criticality: domain.CriticalityLow, Confidence: 0.3,
		Evidence: []string{"e2"}, Sources: []domain.DiscoverySource{domain.SourceLLMInference},
		LastVerified: time.Now(),
	}

	merged := MergeRelationship(base, weaker)

	assert.InDelta(t, 0.95, merged.Confidence, 1e-9, "a distinct agreeing source always boosts confidence by 0.15 over the max, even when that source's own confidence is lower")
	assert.Equal(t, domain.CriticalityHigh, merged.Criticality)
	assert.ElementsMatch(t, []string{"e1", "e2"}, merged.Evidence)
	assert.ElementsMatch(t, []domain.DiscoverySource{domain.SourceSECEdgar, domain.SourceLLMInference}, merged.Sources)
}

func TestMergeRelationship_IsIdempotent(t *testing.T) {
	r := domain.Relationship{
		SourceTicker: "A", TargetTicker: "B", Type: domain.RelationshipSupplier,
		Criticality: domain.CriticalityMedium, Confidence: 0.6,
		Evidence: []string{"e1", "e2"}, Sources: []domain.DiscoverySource{domain.SourceNewsReport},
		LastVerified: time.Now(),
	}

	once := MergeRelationship(r, r)
	twice := MergeRelationship(once, r)

	assert.Equal(t, once.Confidence, twice.Confidence)
	assert.Equal(t, once.Criticality, twice.Criticality)
	assert.Equal(t, once.Evidence, twice.Evidence)
	assert.Equal(t, once.Sources, twice.Sources)
}

func TestMergeRelationship_IsCommutative(t *testing.T) {
	a := domain.Relationship{
		TargetTicker: "B", Criticality: domain.CriticalityMedium, Confidence: 0.5,
		Evidence: []string{"e1"}, Sources: []domain.DiscoverySource{domain.SourceSECEdgar},
		LastVerified: time.Now().Add(-time.Hour),
	}
	b := domain.Relationship{
		TargetTicker: "B", Criticality: domain.CriticalityHigh, Confidence: 0.9,
		Evidence: []string{"e2"}, Sources: []domain.DiscoverySource{domain.SourceLLMInference},
		LastVerified: time.Now(),
	}

	ab := MergeRelationship(a, b)
	ba := MergeRelationship(b, a)

	assert.Equal(t, ab.Confidence, ba.Confidence)
	assert.Equal(t, ab.Criticality, ba.Criticality)
	assert.Equal(t, ab.Evidence, ba.Evidence)
	assert.Equal(t, ab.Sources, ba.Sources)
}
