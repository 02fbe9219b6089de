package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/fedi/domain"
)

// ErrAuthentication means the request signature could not be tied to a key.
var ErrAuthentication = errors.New("authentication failed")

// ValidationError marks a payload that does not have the expected shape.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid activity: " + e.Reason
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func authFailed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAuthentication, fmt.Sprintf(format, args...))
}

// StatusError is a non-2xx answer from a remote server.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote server %s returned status: %d", e.URL, e.Code)
}

// ignoreExists folds a lost uniqueness race into success.
func ignoreExists(err error) error {
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	return err
}

type signerKey struct{}

// WithSigner stores the verified sender on the context.
func WithSigner(ctx context.Context, actor *domain.Actor) context.Context {
	return context.WithValue(ctx, signerKey{}, actor)
}

// SignerFrom returns the verified sender, if any.
func SignerFrom(ctx context.Context) *domain.Actor {
	actor, _ := ctx.Value(signerKey{}).(*domain.Actor)
	return actor
}
