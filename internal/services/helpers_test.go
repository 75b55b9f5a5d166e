package services

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/models"
)

type sentAlert struct {
	title   string
	message string
}

type recordingAlerter struct {
	mu   sync.Mutex
	sent []sentAlert
	ch   chan sentAlert
}

func newRecordingAlerter() *recordingAlerter {
	return &recordingAlerter{ch: make(chan sentAlert, 16)}
}

func (a *recordingAlerter) Send(_ context.Context, title, message string) error {
	a.mu.Lock()
	a.sent = append(a.sent, sentAlert{title: title, message: message})
	a.mu.Unlock()
	a.ch <- sentAlert{title: title, message: message}
	return nil
}

func (a *recordingAlerter) wait(t *testing.T) sentAlert {
	t.Helper()
	select {
	case got := <-a.ch:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert")
		return sentAlert{}
	}
}

func newTestSuite(t *testing.T) (*Suite, *gorm.DB, *recordingAlerter) {
	t.Helper()
	db := database.OpenTestDB(t)
	alerter := newRecordingAlerter()
	suite, err := NewSuite(db, config.DefaultSecurityConfig(), alerter)
	require.NoError(t, err)
	return suite, db, alerter
}

func createUser(t *testing.T, db *gorm.DB, username, role string) *models.User {
	t.Helper()
	u, err := NewUserService(db).Ensure(context.Background(), &models.User{Username: username, Role: role})
	require.NoError(t, err)
	return u
}

func requestFrom(ip, path string) RequestContext {
	return RequestContext{
		IP:        ip,
		UserAgent: "Mozilla/5.0",
		Method:    http.MethodPost,
		Path:      path,
		Headers:   http.Header{"User-Agent": {"Mozilla/5.0"}},
	}
}

func uintPtr(v uint) *uint { return &v }

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
