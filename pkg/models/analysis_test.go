package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageCanTransitionTo_HappyPath(t *testing.T) {
	order := []AnalysisStage{
		StageQueued,
		StageIngesting,
		StageDetecting,
		StageScoring,
		StageInsightGeneration,
		StageCrossReferencing,
		StageCompleted,
	}

	for i := 0; i < len(order)-1; i++ {
		assert.True(t, order[i].CanTransitionTo(order[i+1]),
			"%s should transition to %s", order[i], order[i+1])
	}
}

func TestStageCanTransitionTo_NoSkipping(t *testing.T) {
	assert.False(t, StageQueued.CanTransitionTo(StageScoring))
	assert.False(t, StageIngesting.CanTransitionTo(StageCompleted))
	assert.False(t, StageScoring.CanTransitionTo(StageCrossReferencing))
}

func TestStageCanTransitionTo_FailureAndCancel(t *testing.T) {
	for _, s := range ValidAnalysisStages {
		if s.IsTerminal() {
			assert.False(t, s.CanTransitionTo(StageFailed), "%s is terminal", s)
			assert.False(t, s.CanTransitionTo(StageCancelled), "%s is terminal", s)
			continue
		}
		assert.True(t, s.CanTransitionTo(StageFailed), "%s should be able to fail", s)
		assert.True(t, s.CanTransitionTo(StageCancelled), "%s should be cancellable", s)
	}
}

func TestStageCanTransitionTo_NoBackwards(t *testing.T) {
	assert.False(t, StageScoring.CanTransitionTo(StageIngesting))
	assert.False(t, StageCompleted.CanTransitionTo(StageQueued))
	assert.False(t, StageFailed.CanTransitionTo(StageQueued))
}

func TestStageNext(t *testing.T) {
	assert.Equal(t, StageIngesting, StageQueued.Next())
	assert.Equal(t, StageCompleted, StageCrossReferencing.Next())
	assert.Equal(t, AnalysisStage(""), StageCompleted.Next())
	assert.Equal(t, AnalysisStage(""), StageFailed.Next())
}

func TestAnalysisOverallScore(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	a := &Analysis{}
	assert.Nil(t, a.OverallScore())

	a.SecurityScore = f(80)
	a.QualityScore = f(60)
	got := a.OverallScore()
	assert.NotNil(t, got)
	assert.InDelta(t, 70.0, *got, 0.001)

	a.PerformanceScore = f(40)
	got = a.OverallScore()
	assert.InDelta(t, 60.0, *got, 0.001)
}

func TestAnalysisScoringComplete(t *testing.T) {
	a := &Analysis{StageResults: map[string]StageResult{}}
	assert.False(t, a.ScoringComplete())

	a.StageResults["security"] = StageResult{Status: StageResultSucceeded}
	a.StageResults["performance"] = StageResult{Status: StageResultFailed}
	assert.False(t, a.ScoringComplete())

	// A failed pass still counts toward the barrier.
	a.StageResults["quality"] = StageResult{Status: StageResultFailed}
	assert.True(t, a.ScoringComplete())
}

func TestDepthFileLimit(t *testing.T) {
	assert.Equal(t, 5, DepthShallow.FileLimit())
	assert.Equal(t, 20, DepthStandard.FileLimit())
	assert.Equal(t, 60, DepthDeep.FileLimit())
	assert.False(t, DepthShallow.IncludesPackages())
	assert.True(t, DepthDeep.IncludesPackages())
}
