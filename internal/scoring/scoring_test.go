package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/models"
)

type stubHistory struct {
	count int64
	err   error
	ip    string
	since time.Time
}

func (s *stubHistory) CountByIPSince(_ context.Context, ip string, since time.Time) (int64, error) {
	s.ip = ip
	s.since = since
	return s.count, s.err
}

var adminPrefixes = []string{"/admin", "/monitoring", "/api/security", "/upload"}

func TestScore(t *testing.T) {
	s := NewScorer(nil, adminPrefixes)

	tests := []struct {
		name     string
		attack   models.AttackType
		recent   int
		endpoint string
		want     int
	}{
		{"sql no history", models.AttackSQLInjection, 0, "/search", 80},
		{"sql five prior", models.AttackSQLInjection, 5, "/search", 100},
		{"three prior does not count", models.AttackXSSAttempt, 3, "/search", 60},
		{"four prior", models.AttackXSSAttempt, 4, "/search", 80},
		{"admin endpoint", models.AttackUnauthorizedAccess, 0, "/admin/users", 80},
		{"admin capped", models.AttackPrivilegeEscalation, 0, "/api/security/block-ip", 100},
		{"rate limit base", models.AttackRateLimitViolation, 0, "/api/valves", 40},
		{"unknown type", models.AttackType("mystery"), 0, "/", 50},
		{"lookalike prefix", models.AttackXSSAttempt, 0, "/administrator", 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(tt.attack, tt.recent, tt.endpoint))
		})
	}
}

func TestBaseScoreCoversEveryType(t *testing.T) {
	for _, at := range models.AttackTypes {
		score := BaseScore(at)
		assert.GreaterOrEqual(t, score, 40, at)
		assert.LessOrEqual(t, score, 90, at)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		attack   models.AttackType
		category string
		stage    string
	}{
		{models.AttackSQLInjection, "exploitation", "exploitation"},
		{models.AttackLoginBruteForce, "exploitation", "exploitation"},
		{models.AttackDirectoryBruteForce, "reconnaissance", "reconnaissance"},
		{models.AttackUnauthorizedAccess, "reconnaissance", "reconnaissance"},
		{models.AttackSessionHijacking, "post_exploitation", "post_exploitation"},
		{models.AttackRateLimitViolation, "general_attack", "unknown"},
	}

	for _, tt := range tests {
		category, stage := Classify(tt.attack)
		assert.Equal(t, tt.category, category, tt.attack)
		assert.Equal(t, tt.stage, stage, tt.attack)
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name   string
		attack models.AttackType
		risk   int
		recent int
		want   models.RecommendedAction
	}{
		{"brute force repeated", models.AttackLoginBruteForce, 70, 5, models.RecommendBlockIPTemporary},
		{"brute force first tries", models.AttackLoginBruteForce, 70, 4, models.RecommendAlertAdmin},
		{"sql always permanent", models.AttackSQLInjection, 80, 0, models.RecommendBlockIPPermanent},
		{"privilege escalation", models.AttackPrivilegeEscalation, 10, 0, models.RecommendBlockIPAndAlert},
		{"rate limit high risk", models.AttackRateLimitViolation, 65, 5, models.RecommendRateLimit},
		{"rate limit low risk", models.AttackRateLimitViolation, 40, 0, models.RecommendLogOnly},
		{"high risk generic", models.AttackPathTraversal, 80, 0, models.RecommendBlockIPAndAlert},
		{"medium risk generic", models.AttackXSSAttempt, 60, 0, models.RecommendAlertAdmin},
		{"low risk generic", models.AttackSuspiciousActivity, 50, 0, models.RecommendLogOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommend(tt.attack, tt.risk, tt.recent))
		})
	}
}

func TestDecide_StepsFollowTheBranch(t *testing.T) {
	privEsc := Decide(models.AttackPrivilegeEscalation, 10, 0)
	highRisk := Decide(models.AttackPathTraversal, 85, 0)

	assert.Equal(t, privEsc.Action, highRisk.Action, "both branches block and alert")
	assert.Equal(t, []string{"Check /monitoring for alerts", "Review security actions", "Unblock if false positive"}, privEsc.Steps)
	assert.Equal(t, []string{"Check /monitoring", "Review blocked IPs", "Unblock after investigation"}, highRisk.Steps)

	assert.Equal(t, []string{"Review alert in /monitoring", "Mark as resolved"}, Decide(models.AttackXSSAttempt, 60, 0).Steps)
	assert.Equal(t, []string{"No action needed", "Monitoring for pattern"}, Decide(models.AttackSuspiciousActivity, 10, 0).Steps)
}

func TestDecide_StepsAreCopies(t *testing.T) {
	steps := Decide(models.AttackXSSAttempt, 60, 0).Steps
	steps[0] = "mutated"
	assert.Equal(t, "Review alert in /monitoring", Decide(models.AttackXSSAttempt, 60, 0).Steps[0])

	def := DefaultReversalSteps()
	assert.Equal(t, []string{"Review in monitoring dashboard", "Take appropriate action"}, def)
	def[0] = "mutated"
	assert.Equal(t, "Review in monitoring dashboard", DefaultReversalSteps()[0])
}

func TestAssess(t *testing.T) {
	history := &stubHistory{count: 5}
	s := NewScorer(history, adminPrefixes)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	got, err := s.Assess(context.Background(), models.AttackLoginBruteForce, "203.0.113.9", "/login")
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.9", history.ip)
	assert.Equal(t, fixed.Add(-HistoryWindow), history.since)
	assert.Equal(t, 95, got.RiskScore)
	assert.Equal(t, "exploitation_exploitation", got.Classification)
	assert.Equal(t, models.RecommendBlockIPTemporary, got.RecommendedAction)
	assert.Equal(t, 5, got.RecentCount)
	assert.Len(t, got.ReversalSteps, 3)
}

func TestAssess_NoIPSkipsHistory(t *testing.T) {
	history := &stubHistory{count: 50}
	s := NewScorer(history, nil)

	got, err := s.Assess(context.Background(), models.AttackSQLInjection, "", "/search")
	require.NoError(t, err)
	assert.Equal(t, 80, got.RiskScore)
	assert.Empty(t, history.ip)
}

func TestAssess_HistoryError(t *testing.T) {
	s := NewScorer(&stubHistory{err: errors.New("db down")}, nil)

	_, err := s.Assess(context.Background(), models.AttackSQLInjection, "10.0.0.1", "/search")
	assert.Error(t, err)
}
