package triage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateBaseUnits(t *testing.T) {
	assert.Equal(t, 3, Estimate(KindInPerson, "routine checkup"))
	assert.Equal(t, 2, Estimate(KindRemote, "routine checkup"))
}

func TestEstimateWeighting(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		reason string
		want   int
	}{
		{
			name:   "urgent symptom adds two",
			kind:   KindRemote,
			reason: "sudden chest pain since morning",
			want:   4,
		},
		{
			name:   "chronic condition adds one",
			kind:   KindRemote,
			reason: "diabetes follow up",
			want:   3,
		},
		{
			name:   "severity adds one",
			kind:   KindRemote,
			reason: "severe headache",
			want:   3,
		},
		{
			name:   "weights stack",
			kind:   KindInPerson,
			reason: "severe chest pain, history of diabetes",
			want:   6, // 3+2+1+1 clamps at the hour capacity
		},
		{
			name:   "case insensitive",
			kind:   KindRemote,
			reason: "CHEST PAIN",
			want:   4,
		},
		{
			name:   "pregnancy prefix matches",
			kind:   KindRemote,
			reason: "pregnancy consultation",
			want:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.kind, tt.reason))
		})
	}
}

func TestEstimateLongReason(t *testing.T) {
	long := strings.Repeat("symptom description goes here and on ", 5) // 30 tokens
	assert.Equal(t, 3, Estimate(KindRemote, long))

	short := strings.Repeat("word ", 24)
	assert.Equal(t, 2, Estimate(KindRemote, short))
}

func TestEstimateClampedToHourCapacity(t *testing.T) {
	reason := "severe unbearable chest pain, fainting, high fever, diabetes and hypertension, " +
		strings.Repeat("worsening ", 25)
	got := Estimate(KindInPerson, reason)
	assert.Equal(t, UnitsPerHour, got)
}

func TestEstimateNeverBelowOne(t *testing.T) {
	got := EstimateWithRules(KindRemote, "", nil)
	assert.GreaterOrEqual(t, got, 1)
}

func TestEstimateDeterministic(t *testing.T) {
	reason := "severe asthma attack worsening overnight"
	first := Estimate(KindRemote, reason)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Estimate(KindRemote, reason))
	}
}
