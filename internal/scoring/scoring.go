// Package scoring derives the risk score, kill-chain classification and recommended
// response for an attack event.
package scoring

import (
	"context"
	"time"

	"github.com/Wikid82/warden/internal/detection"
	"github.com/Wikid82/warden/internal/models"
)

// HistoryWindow is how far back prior events from the same IP raise the score.
const HistoryWindow = 60 * time.Minute

const (
	defaultBaseScore  = 50
	repeatThreshold   = 3
	repeatIncrement   = 5
	adminEndpointBump = 10
	maxScore          = 100
)

var baseScores = map[models.AttackType]int{
	models.AttackSQLInjection:        80,
	models.AttackLoginBruteForce:     70,
	models.AttackPrivilegeEscalation: 90,
	models.AttackFileUploadAbuse:     75,
	models.AttackSessionHijacking:    85,
	models.AttackCookieManipulation:  70,
	models.AttackDirectoryBruteForce: 50,
	models.AttackRateLimitViolation:  40,
	models.AttackPathTraversal:       80,
	models.AttackXSSAttempt:          60,
	models.AttackCSRFAttempt:         65,
	models.AttackUnauthorizedAccess:  70,
	models.AttackSizeBypass:          60,
	models.AttackMimeBypass:          70,
	models.AttackEncryptedPayload:    55,
	models.AttackSuspiciousActivity:  50,
}

// BaseScore returns the fixed starting score for t.
func BaseScore(t models.AttackType) int {
	if s, ok := baseScores[t]; ok {
		return s
	}
	return defaultBaseScore
}

// History counts persisted events for an IP. The attack event store satisfies it.
type History interface {
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)
}

// Assessment is everything scoring attaches to a new event.
type Assessment struct {
	RiskScore         int
	Category          string
	Stage             string
	Classification    string
	RecommendedAction models.RecommendedAction
	ReversalSteps     []string
	RecentCount       int
}

// Scorer combines the static tables with recent history for an IP.
type Scorer struct {
	history       History
	adminPrefixes []string
	now           func() time.Time
}

// NewScorer returns a Scorer reading prior events from history. Endpoints under one of
// adminPrefixes score higher.
func NewScorer(history History, adminPrefixes []string) *Scorer {
	return &Scorer{history: history, adminPrefixes: adminPrefixes, now: time.Now}
}

// Assess scores, classifies and recommends a response for an event that is about to be
// stored. Only events already persisted for ip count as history.
func (s *Scorer) Assess(ctx context.Context, attackType models.AttackType, ip, endpoint string) (Assessment, error) {
	recent := 0
	if ip != "" && s.history != nil {
		n, err := s.history.CountByIPSince(ctx, ip, s.now().UTC().Add(-HistoryWindow))
		if err != nil {
			return Assessment{}, err
		}
		recent = int(n)
	}

	score := s.Score(attackType, recent, endpoint)
	category, stage := Classify(attackType)
	rec := Decide(attackType, score, recent)
	return Assessment{
		RiskScore:         score,
		Category:          category,
		Stage:             stage,
		Classification:    category + "_" + stage,
		RecommendedAction: rec.Action,
		ReversalSteps:     rec.Steps,
		RecentCount:       recent,
	}, nil
}

// Score applies the repeat-offender and admin-endpoint adjustments to the base score.
// The cap is applied after each step.
func (s *Scorer) Score(attackType models.AttackType, recentCount int, endpoint string) int {
	score := BaseScore(attackType)
	if recentCount > repeatThreshold {
		score = min(maxScore, score+recentCount*repeatIncrement)
	}
	if detection.MatchesPrefix(endpoint, s.adminPrefixes) {
		score = min(maxScore, score+adminEndpointBump)
	}
	return score
}

// Classify maps an attack type to its kill-chain category and stage.
func Classify(t models.AttackType) (category, stage string) {
	switch t {
	case models.AttackDirectoryBruteForce, models.AttackUnauthorizedAccess:
		return "reconnaissance", "reconnaissance"
	case models.AttackSQLInjection, models.AttackFileUploadAbuse, models.AttackXSSAttempt, models.AttackLoginBruteForce:
		return "exploitation", "exploitation"
	case models.AttackPrivilegeEscalation, models.AttackSessionHijacking, models.AttackCookieManipulation:
		return "post_exploitation", "post_exploitation"
	default:
		return "general_attack", "unknown"
	}
}

// Recommendation is an operator recommendation with the manual steps to undo it.
// Two branches can share an action but not their steps.
type Recommendation struct {
	Action models.RecommendedAction
	Steps  []string
}

var (
	recBruteForce = Recommendation{models.RecommendBlockIPTemporary, []string{"Navigate to /monitoring", "Find IP in blocked list", "Click Unblock button"}}
	recSQLi       = Recommendation{models.RecommendBlockIPPermanent, []string{"Navigate to /monitoring", "Go to Blocked IPs", "Select IP and click Unblock"}}
	recPrivEsc    = Recommendation{models.RecommendBlockIPAndAlert, []string{"Check /monitoring for alerts", "Review security actions", "Unblock if false positive"}}
	recRateLimit  = Recommendation{models.RecommendRateLimit, []string{"Navigate to /monitoring", "View rate limited IPs", "Remove from rate limit list"}}
	recHighRisk   = Recommendation{models.RecommendBlockIPAndAlert, []string{"Check /monitoring", "Review blocked IPs", "Unblock after investigation"}}
	recMediumRisk = Recommendation{models.RecommendAlertAdmin, []string{"Review alert in /monitoring", "Mark as resolved"}}
	recLogOnly    = Recommendation{models.RecommendLogOnly, []string{"No action needed", "Monitoring for pattern"}}
)

// Decide picks the recommendation. The first matching case wins. The returned steps are a
// copy the caller may keep.
func Decide(t models.AttackType, riskScore, recentCount int) Recommendation {
	var r Recommendation
	switch {
	case t == models.AttackLoginBruteForce && recentCount >= 5:
		r = recBruteForce
	case t == models.AttackSQLInjection:
		r = recSQLi
	case t == models.AttackPrivilegeEscalation:
		r = recPrivEsc
	case t == models.AttackRateLimitViolation && riskScore > 60:
		r = recRateLimit
	case riskScore >= 80:
		r = recHighRisk
	case riskScore >= 60:
		r = recMediumRisk
	default:
		r = recLogOnly
	}
	r.Steps = append([]string(nil), r.Steps...)
	return r
}

// Recommend returns just the action Decide picks.
func Recommend(t models.AttackType, riskScore, recentCount int) models.RecommendedAction {
	return Decide(t, riskScore, recentCount).Action
}

// defaultReversalSteps is shown when the recommendation was supplied by the caller.
var defaultReversalSteps = []string{"Review in monitoring dashboard", "Take appropriate action"}

// DefaultReversalSteps returns a copy of the generic undo steps.
func DefaultReversalSteps() []string {
	return append([]string(nil), defaultReversalSteps...)
}
