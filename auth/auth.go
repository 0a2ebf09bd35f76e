package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized matches every launch that could not be authenticated.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Authenticator turns a platform id_token into a Result.
// Implementations must be safe for concurrent use.
type Authenticator interface {
	Authenticate(ctx context.Context, idToken string) (Result, error)
}

// LaunchVerifier checks an id_token's signature and registered claims and
// returns its decoded claims.
type LaunchVerifier interface {
	VerifyAndDecode(ctx context.Context, idToken, jwksURL, audience string) (map[string]any, error)
}

// LocalProvisioner ensures a local account exists for an authenticated
// launch, for example an operating system user named Result.Name.
type LocalProvisioner interface {
	Provision(ctx context.Context, res Result) error
}

// WithLocalProvisioning returns an Authenticator that provisions every
// successfully authenticated user through p before returning.
func WithLocalProvisioning(a Authenticator, p LocalProvisioner) Authenticator {
	return &provisioningAuthenticator{next: a, prov: p}
}

type provisioningAuthenticator struct {
	next Authenticator
	prov LocalProvisioner
}

func (pa *provisioningAuthenticator) Authenticate(ctx context.Context, idToken string) (Result, error) {
	res, err := pa.next.Authenticate(ctx, idToken)
	if err != nil {
		return Result{}, err
	}
	if err := pa.prov.Provision(ctx, res); err != nil {
		return Result{}, fmt.Errorf("auth: provision %q: %w", res.Name, err)
	}
	return res, nil
}
