package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/detection"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/scoring"
	"github.com/Wikid82/warden/internal/util"
)

// MaxPayloadLength bounds the stored payload.
const MaxPayloadLength = 2000

// RequestContext is the per-request input every check and report receives.
type RequestContext struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
	ActorID   *uint
	Role      string
	SessionIP string
	Headers   http.Header
	Query     url.Values
	Form      url.Values
}

// AttackReport describes an attack to record. Endpoint defaults to the request path and
// Severity to medium. A caller-supplied RecommendedAction or RiskScore replaces the computed one.
type AttackReport struct {
	Type              models.AttackType
	Endpoint          string
	Payload           string
	Severity          models.Severity
	Blocked           bool
	Details           string
	RelatedEventID    *uint
	ResponseStatus    *int
	RecommendedAction models.RecommendedAction
	RiskScore         *int
}

// MonitorService is the pipeline entry: detectors feed it, it scores and stores the event,
// then hands it to the response engine.
type MonitorService struct {
	db            *gorm.DB
	users         *UserService
	scorer        *scoring.Scorer
	engine        *ResponseEngine
	tracker       *detection.ProbeTracker
	adminPrefixes []string
	now           func() time.Time
}

// NewMonitorService wires the pipeline entry.
func NewMonitorService(db *gorm.DB, users *UserService, scorer *scoring.Scorer, engine *ResponseEngine, tracker *detection.ProbeTracker, adminPrefixes []string) *MonitorService {
	return &MonitorService{
		db:            db,
		users:         users,
		scorer:        scorer,
		engine:        engine,
		tracker:       tracker,
		adminPrefixes: adminPrefixes,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Tracker returns the sliding window pre-filter.
func (m *MonitorService) Tracker() *detection.ProbeTracker {
	return m.tracker
}

// AdminPrefixes returns the endpoint prefixes reserved for admins.
func (m *MonitorService) AdminPrefixes() []string {
	return m.adminPrefixes
}

type requestSnapshot struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Headers map[string][]string `json:"headers,omitempty"`
	Query   map[string][]string `json:"query,omitempty"`
	Form    map[string][]string `json:"form,omitempty"`
}

var secretFields = []string{"password", "passwd", "secret", "token", "csrf"}

func redactValues(v url.Values) map[string][]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string][]string, len(v))
	for k, vals := range v {
		lk := strings.ToLower(k)
		redact := false
		for _, f := range secretFields {
			if strings.Contains(lk, f) {
				redact = true
				break
			}
		}
		if redact {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, val := range vals {
			clean = append(clean, util.Truncate(util.SanitizeForLog(val), 256))
		}
		out[k] = clean
	}
	return out
}

func (rc RequestContext) snapshot() string {
	raw, err := json.Marshal(requestSnapshot{
		Method:  rc.Method,
		Path:    util.SanitizeForLog(rc.Path),
		Headers: util.SanitizeHeaders(rc.Headers),
		Query:   redactValues(rc.Query),
		Form:    redactValues(rc.Form),
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (rc RequestContext) log() *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"source": "monitor",
		"ip":     util.SanitizeForLog(rc.IP),
		"path":   util.SanitizeForLog(rc.Path),
	})
}

// buildEvent scores and classifies the report and returns the event ready to insert.
func (m *MonitorService) buildEvent(ctx context.Context, rc RequestContext, report AttackReport) (*models.AttackEvent, error) {
	if !report.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAttack, report.Type)
	}
	endpoint := report.Endpoint
	if endpoint == "" {
		endpoint = rc.Path
	}
	severity := report.Severity
	if !severity.Valid() {
		severity = models.SeverityMedium
	}

	assessment, err := m.scorer.Assess(ctx, report.Type, rc.IP, endpoint)
	if err != nil {
		rc.log().WithError(err).Error("risk history unavailable, scoring without it")
		assessment, _ = scoring.NewScorer(nil, m.adminPrefixes).Assess(ctx, report.Type, rc.IP, endpoint)
	}

	score := assessment.RiskScore
	if report.RiskScore != nil {
		score = max(0, min(100, *report.RiskScore))
	}
	action := assessment.RecommendedAction
	steps := assessment.ReversalSteps
	if report.RecommendedAction != "" {
		action = report.RecommendedAction
		steps = scoring.DefaultReversalSteps()
	}
	stepsJSON, _ := json.Marshal(steps)

	return &models.AttackEvent{
		AttackType:         report.Type,
		Endpoint:           util.Truncate(util.SanitizeForLog(endpoint), 512),
		ActorID:            rc.ActorID,
		SourceIP:           rc.IP,
		UserAgent:          util.Truncate(util.SanitizeForLog(rc.UserAgent), 512),
		Method:             rc.Method,
		Payload:            util.SanitizePayload(report.Payload, MaxPayloadLength),
		Severity:           severity,
		Blocked:            report.Blocked,
		Details:            util.SanitizePayload(report.Details, MaxPayloadLength),
		Classification:     assessment.Classification,
		RecommendedAction:  action,
		ReverseActionSteps: string(stepsJSON),
		RiskScore:          score,
		RelatedEventID:     report.RelatedEventID,
		RawContext:         rc.snapshot(),
		ResponseStatus:     report.ResponseStatus,
		Timestamp:          m.now(),
	}, nil
}

func (m *MonitorService) afterCreate(ctx context.Context, rc RequestContext, event *models.AttackEvent) {
	metrics.IncDetection(string(event.AttackType))
	rc.log().WithFields(logrus.Fields{
		"attack_type": event.AttackType,
		"event_id":    event.ID,
		"risk_score":  event.RiskScore,
		"action":      event.RecommendedAction,
	}).Warn("attack recorded")

	if _, err := m.engine.Evaluate(ctx, event); err != nil {
		rc.log().WithError(err).WithField("event_id", event.ID).Error("auto response incomplete")
	}
}

// RecordAttack scores, stores and responds to an attack. The returned id correlates later
// reports with this one.
func (m *MonitorService) RecordAttack(ctx context.Context, rc RequestContext, report AttackReport) (uint, error) {
	event, err := m.buildEvent(ctx, rc, report)
	if err != nil {
		return 0, err
	}
	if err := createEvent(m.db.WithContext(ctx), event, m.now); err != nil {
		rc.log().WithError(err).Error("failed to record attack")
		return 0, err
	}
	m.afterCreate(ctx, rc, event)
	return event.ID, nil
}

// RecordFailedLogin stores a login_brute_force event and its ledger row together, before the
// rules run, so the attempt counts toward its own thresholds. The event's actor is the
// account the username names, when it exists.
func (m *MonitorService) RecordFailedLogin(ctx context.Context, rc RequestContext, username string) (uint, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = "unknown"
	}
	if rc.Path == "" {
		rc.Path = "/login"
	}
	rc.ActorID = nil
	if u, err := m.users.FindByUsername(ctx, username); err == nil {
		rc.ActorID = &u.ID
	} else if !isNotFoundClass(err) {
		rc.log().WithError(err).Error("failed to resolve username")
	}

	event, err := m.buildEvent(ctx, rc, AttackReport{
		Type:     models.AttackLoginBruteForce,
		Endpoint: rc.Path,
		Payload:  "username: " + username,
		Severity: models.SeverityMedium,
		Details:  "Failed login attempt for user: " + username,
	})
	if err != nil {
		return 0, err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, err := lastEventFor(tx, username)
		if err != nil {
			return err
		}
		event.RelatedEventID = prev
		if err := createEvent(tx, event, m.now); err != nil {
			return err
		}
		return recordFailedLogin(tx, &models.FailedLoginAttempt{
			Username:      username,
			IPAddress:     rc.IP,
			UserAgent:     util.Truncate(util.SanitizeForLog(rc.UserAgent), 512),
			AttemptTime:   event.Timestamp,
			AttackEventID: &event.ID,
		})
	})
	if err != nil {
		rc.log().WithError(err).Error("failed to record failed login")
		return 0, err
	}
	m.afterCreate(ctx, rc, event)
	return event.ID, nil
}

// ReportUnauthorized records a request that lacked requiredRole.
func (m *MonitorService) ReportUnauthorized(ctx context.Context, rc RequestContext, requiredRole string) (uint, error) {
	role := rc.Role
	if role == "" {
		role = "guest"
	}
	return m.RecordAttack(ctx, rc, AttackReport{
		Type:     models.AttackUnauthorizedAccess,
		Payload:  fmt.Sprintf("User role: %s, Required: %s", role, requiredRole),
		Severity: models.SeverityMedium,
		Blocked:  true,
		Details:  "Unauthorized access attempt to " + rc.Path,
	})
}

// report is the fire-and-forget form used by the Check helpers: the request proceeds
// whether or not the event could be stored.
func (m *MonitorService) report(ctx context.Context, rc RequestContext, r AttackReport) {
	_, _ = m.RecordAttack(ctx, rc, r)
}

func describeWindow(d time.Duration) string {
	if d == time.Minute {
		return "1 minute"
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}

func endpointOr(endpoint string, rc RequestContext) string {
	if endpoint != "" {
		return endpoint
	}
	return rc.Path
}

// CheckSQLInjection reports value when it carries SQL injection markers.
func (m *MonitorService) CheckSQLInjection(ctx context.Context, rc RequestContext, value, endpoint string) bool {
	if !detection.DetectSQLInjection(value) {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackSQLInjection,
		Endpoint: endpointOr(endpoint, rc),
		Payload:  value,
		Severity: models.SeverityHigh,
		Blocked:  true,
		Details:  "SQL injection pattern detected",
	})
	return true
}

// CheckXSS reports the named field when its value carries script injection markers.
func (m *MonitorService) CheckXSS(ctx context.Context, rc RequestContext, field, value, endpoint string) bool {
	if !detection.DetectXSS(value) {
		return false
	}
	if field == "" {
		field = "input"
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackXSSAttempt,
		Endpoint: endpointOr(endpoint, rc),
		Payload:  field + ": " + value,
		Severity: models.SeverityHigh,
		Blocked:  true,
		Details:  "XSS pattern detected in " + field,
	})
	return true
}

// CheckPathTraversal reports a path that tries to climb out of its directory.
func (m *MonitorService) CheckPathTraversal(ctx context.Context, rc RequestContext, path, endpoint string) bool {
	if !detection.DetectPathTraversal(path) {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackPathTraversal,
		Endpoint: endpointOr(endpoint, rc),
		Payload:  path,
		Severity: models.SeverityHigh,
		Blocked:  true,
		Details:  "Path traversal pattern detected",
	})
	return true
}

// UploadAttackType picks the attack type for a set of upload issues. Extension and
// content-type problems win over size.
func UploadAttackType(issues []string) models.AttackType {
	var mime, oversized bool
	for _, issue := range issues {
		switch {
		case issue == detection.IssueOversized:
			oversized = true
		case issue == detection.IssueDoubleExtension,
			strings.HasPrefix(issue, detection.IssueSuspiciousExtension),
			strings.HasPrefix(issue, detection.IssueSuspiciousContentType):
			mime = true
		}
	}
	switch {
	case mime:
		return models.AttackMimeBypass
	case oversized:
		return models.AttackSizeBypass
	}
	return models.AttackFileUploadAbuse
}

// CheckFileUpload reports upload metadata with any issue and returns the issues found.
func (m *MonitorService) CheckFileUpload(ctx context.Context, rc RequestContext, filename, contentType string, size int64, endpoint string) []string {
	issues := detection.DetectFileUploadAbuse(filename, contentType, size)
	if len(issues) == 0 {
		return nil
	}
	m.report(ctx, rc, AttackReport{
		Type:     UploadAttackType(issues),
		Endpoint: endpointOr(endpoint, rc),
		Payload:  fmt.Sprintf("filename:%s, size:%d, type:%s", filename, size, contentType),
		Severity: models.SeverityHigh,
		Blocked:  true,
		Details:  strings.Join(issues, ", "),
	})
	return issues
}

// CheckSuspiciousAgent reports requests from known scanner tools. They are logged, not blocked.
func (m *MonitorService) CheckSuspiciousAgent(ctx context.Context, rc RequestContext) bool {
	found, name := detection.DetectSuspiciousUserAgent(rc.UserAgent)
	if !found {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackSuspiciousActivity,
		Payload:  "User-Agent: " + name,
		Severity: models.SeverityMedium,
		Details:  "Suspicious user agent detected: " + name,
	})
	return true
}

// CheckCookie reports a tampered session cookie value.
func (m *MonitorService) CheckCookie(ctx context.Context, rc RequestContext, value string) bool {
	found, details := detection.DetectCookieTampering(value)
	if !found {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackCookieManipulation,
		Payload:  "Cookie tampering detected",
		Severity: models.SeverityHigh,
		Blocked:  true,
		Details:  details,
	})
	return true
}

// CheckSessionAnomaly reports a session used from an address other than the one it was
// issued to.
func (m *MonitorService) CheckSessionAnomaly(ctx context.Context, rc RequestContext) bool {
	if rc.ActorID == nil {
		return false
	}
	found, details := detection.DetectSessionIPMismatch(rc.SessionIP, rc.IP)
	if !found {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackSessionHijacking,
		Payload:  fmt.Sprintf("User ID: %d", *rc.ActorID),
		Severity: models.SeverityHigh,
		Blocked:  true,
		Details:  details,
	})
	return true
}

// CheckPrivilegeEscalation reports a non-admin reaching an admin endpoint.
func (m *MonitorService) CheckPrivilegeEscalation(ctx context.Context, rc RequestContext) bool {
	found, details := detection.DetectPrivilegeEscalation(rc.Role, rc.Path, m.adminPrefixes)
	if !found {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackPrivilegeEscalation,
		Payload:  "Role: " + rc.Role,
		Severity: models.SeverityCritical,
		Blocked:  true,
		Details:  details,
	})
	return true
}

// ObserveRequestRate counts the request in the rate window and reports a violation once
// the count is over the limit.
func (m *MonitorService) ObserveRequestRate(ctx context.Context, rc RequestContext) bool {
	if rc.IP == "" {
		return false
	}
	metrics.IncWindowObservation("request_rate")
	over, n := m.tracker.ObserveRequest(rc.IP, rc.Path)
	if !over {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackRateLimitViolation,
		Payload:  fmt.Sprintf("%d requests in %s", n, describeWindow(m.tracker.Limits().RateWindow)),
		Severity: models.SeverityMedium,
		Blocked:  true,
		Details:  fmt.Sprintf("Rate limit exceeded: %d requests", n),
	})
	return true
}

// ObserveNotFound counts a 404 and reports directory probing when the count reaches the
// threshold and at every further multiple of it.
func (m *MonitorService) ObserveNotFound(ctx context.Context, rc RequestContext) bool {
	if rc.IP == "" {
		return false
	}
	metrics.IncWindowObservation("not_found")
	probing, n := m.tracker.ObserveNotFound(rc.IP)
	if !probing || n%m.tracker.Limits().NotFoundThreshold != 0 {
		return false
	}
	m.report(ctx, rc, AttackReport{
		Type:     models.AttackDirectoryBruteForce,
		Payload:  fmt.Sprintf("%d 404 errors in %s", n, describeWindow(m.tracker.Limits().NotFoundWindow)),
		Severity: models.SeverityMedium,
		Details:  fmt.Sprintf("Directory brute force detected: %d failed requests", n),
	})
	return true
}
