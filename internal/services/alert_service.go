package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/util"
)

// Alerter delivers an admin alert to whatever channel is configured.
type Alerter interface {
	Send(ctx context.Context, title, message string) error
}

// ShoutrrrAlerter fans an alert out to every configured shoutrrr URL
// (slack://, discord://, smtp://, generic://...).
type ShoutrrrAlerter struct {
	urls []string
	send func(url, message string) error
}

// NewShoutrrrAlerter returns an alerter for urls. With no urls alerts are only logged.
func NewShoutrrrAlerter(urls []string) *ShoutrrrAlerter {
	return &ShoutrrrAlerter{urls: urls, send: shoutrrr.Send}
}

// Send delivers to every URL and joins the failures.
func (a *ShoutrrrAlerter) Send(ctx context.Context, title, message string) error {
	if len(a.urls) == 0 {
		logger.Log().WithField("title", title).Info("admin alert (no alert urls configured)")
		return nil
	}
	msg := fmt.Sprintf("[Warden] %s\n%s", title, message)
	var errs []error
	for _, url := range a.urls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := a.send(url, msg); err != nil {
			logger.Log().WithError(err).WithField("service", util.SanitizeForLog(serviceScheme(url))).Error("failed to send admin alert")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// serviceScheme keeps only the scheme so credentials embedded in the URL never reach the log.
func serviceScheme(url string) string {
	if scheme, _, ok := strings.Cut(url, ":"); ok {
		return scheme
	}
	return "unknown"
}
