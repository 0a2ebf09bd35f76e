// Package authtest provides fakes for exercising LTI launches and token
// exchanges without a real platform. Nothing here is safe for production.
package authtest

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/lti13-go/auth"
	"github.com/ggoodman/lti13-go/launch"
)

// InsecureVerifier decodes id_tokens without checking their signature or any
// registered claim. It exists only for tests and local development and can
// be installed solely through auth.WithLaunchVerifier.
type InsecureVerifier struct{}

var _ auth.LaunchVerifier = InsecureVerifier{}

func (InsecureVerifier) VerifyAndDecode(_ context.Context, idToken, _, _ string) (map[string]any, error) {
	if idToken == "" {
		return nil, &launch.SignatureVerificationError{Err: errors.New("empty token")}
	}
	tok, _, err := jwt.NewParser().ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil {
		return nil, &launch.SignatureVerificationError{Err: err}
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &launch.SignatureVerificationError{Err: errors.New("invalid claims type")}
	}
	return map[string]any(claims), nil
}

// NoAuth is an Authenticator that accepts any id_token and returns a fixed
// Result.
type NoAuth struct {
	Result auth.Result
}

var _ auth.Authenticator = (*NoAuth)(nil)

// NewNoAuth returns a NoAuth for username, defaulting to "test-user" as a
// Learner in course "test-course".
func NewNoAuth(username string) *NoAuth {
	if username == "" {
		username = "test-user"
	}
	return &NoAuth{Result: auth.Result{
		Name: username,
		AuthState: auth.AuthState{
			CourseID:  "test-course",
			UserRole:  launch.Learner,
			LMSUserID: username,
		},
	}}
}

func (n *NoAuth) Authenticate(context.Context, string) (auth.Result, error) {
	return n.Result, nil
}

// Reject is an Authenticator that fails every launch with Err wrapped in
// auth.ErrUnauthorized.
type Reject struct {
	Err error
}

func (r Reject) Authenticate(context.Context, string) (auth.Result, error) {
	err := r.Err
	if err == nil {
		err = &launch.SignatureVerificationError{Err: errors.New("rejected")}
	}
	return auth.Result{}, errors.Join(auth.ErrUnauthorized, err)
}
