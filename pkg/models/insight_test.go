package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsightStatusTransitions(t *testing.T) {
	assert.True(t, InsightStatusOpen.CanTransitionTo(InsightStatusAcknowledged))
	assert.True(t, InsightStatusOpen.CanTransitionTo(InsightStatusResolved))
	assert.True(t, InsightStatusAcknowledged.CanTransitionTo(InsightStatusDismissed))

	// Dismissed only reopens.
	assert.True(t, InsightStatusDismissed.CanTransitionTo(InsightStatusOpen))
	assert.False(t, InsightStatusDismissed.CanTransitionTo(InsightStatusResolved))

	// No self moves.
	assert.False(t, InsightStatusOpen.CanTransitionTo(InsightStatusOpen))
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityLow, SeverityCritical))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityMedium))
	assert.Equal(t, SeverityInfo, MaxSeverity(SeverityInfo, SeverityInfo))
}

func TestIsValidInsightSeverity(t *testing.T) {
	assert.True(t, IsValidInsightSeverity(SeverityMedium))
	assert.False(t, IsValidInsightSeverity(InsightSeverity("urgent")))
}
