package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/services"
)

type nopAlerter struct{}

func (nopAlerter) Send(context.Context, string, string) error { return nil }

func newSuite(t *testing.T) (*services.Suite, *gorm.DB) {
	t.Helper()
	db := database.OpenTestDB(t)
	suite, err := services.NewSuite(db, config.DefaultSecurityConfig(), nopAlerter{})
	require.NoError(t, err)
	return suite, db
}

// newRouter returns a router whose requests come from operator 1 with the admin role.
func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, uint(1))
		c.Set(middleware.RoleKey, "admin")
		c.Next()
	})
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.200:5000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrInvalidIP, http.StatusBadRequest},
		{services.ErrNotReversible, http.StatusBadRequest},
		{services.ErrBlockNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", services.ErrRuleNotFound), http.StatusNotFound},
		{services.ErrAlreadyReversed, http.StatusConflict},
		{fmt.Errorf("%w: list: disk full", services.ErrStorage), http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestRespondError_HidesStorageDetails(t *testing.T) {
	r := newRouter()
	r.GET("/fail", func(c *gin.Context) {
		respondError(c, fmt.Errorf("%w: list: database is locked", services.ErrStorage))
	})
	w := doJSON(r, http.MethodGet, "/fail", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database is locked")
}
