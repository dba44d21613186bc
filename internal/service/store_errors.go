package service

import (
	"github.com/noah-isme/academy-portal-api/internal/repository"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

// wrapStore converts a repository failure into a typed error. Timeouts
// and connection-class failures map to UNAVAILABLE so callers can
// retry; anything else is an internal error.
func wrapStore(err error, message string) *appErrors.Error {
	if repository.IsUnavailable(err) {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
