// Package auth authenticates LTI 1.3 resource link launches for a tool.
//
// A LaunchAuthenticator takes the id_token a platform POSTs to the tool's
// redirect URL and turns it into a Result: a normalized username plus the
// course, role, platform user id and return URL of the launch. Every failure
// aborts the launch; no partial Result is ever returned.
//
// Example:
//
//	cfg, err := auth.ConfigFromEnv()
//	if err != nil { log.Fatal(err) }
//	authn, err := auth.New(cfg, auth.WithLogger(logger))
//	if err != nil { log.Fatal(err) }
//
//	res, err := authn.Authenticate(r.Context(), r.PostFormValue("id_token"))
//	if errors.Is(err, auth.ErrUnauthorized) { /* reject the launch */ }
//
// # Verification
//
// The id_token must be RS256-signed by a key in the platform key set
// (Config.Endpoint), carry the tool's client id in aud and be within its
// exp/nbf/iat window. The key set is fetched on every verification unless a
// caching KeySource is supplied through WithKeySource.
//
// # Errors
//
// All launch failures match ErrUnauthorized. The underlying cause is one of
// the launch package error types (SignatureVerificationError,
// ClaimValidationError, MissingRequiredClaimError, MissingUsernameError) and
// can be extracted with errors.As.
//
// # Access tokens
//
// GetAccessToken and TokenSource obtain platform API tokens with the tool's
// private key, independent of any launch.
package auth
