package launch

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is matching against the struct error types below.
var (
	ErrSignature            = errors.New("launch: signature verification failed")
	ErrClaimValidation      = errors.New("launch: claim validation failed")
	ErrMissingRequiredClaim = errors.New("launch: missing required claim")
	ErrMissingUsername      = errors.New("launch: unable to set the username")
)

// SignatureVerificationError indicates the id_token could not be
// cryptographically verified: it was malformed, signed with a disallowed
// algorithm or unknown key, did not match its signature, or the platform key
// set could not be obtained.
type SignatureVerificationError struct {
	Err error
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("launch: signature verification failed: %v", e.Err)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

func (e *SignatureVerificationError) Is(target error) bool { return target == ErrSignature }

// ClaimValidationError indicates a correctly signed token whose registered
// claims (aud, exp, nbf, iat, iss) were not acceptable.
type ClaimValidationError struct {
	Claim string // registered claim name when known
	Err   error
}

func (e *ClaimValidationError) Error() string {
	if e.Claim != "" {
		return fmt.Sprintf("launch: invalid %s claim: %v", e.Claim, e.Err)
	}
	return fmt.Sprintf("launch: invalid claims: %v", e.Err)
}

func (e *ClaimValidationError) Unwrap() error { return e.Err }

func (e *ClaimValidationError) Is(target error) bool { return target == ErrClaimValidation }

// MissingRequiredClaimError lists every LTI launch claim that was absent or
// did not carry its required value.
type MissingRequiredClaimError struct {
	Claims []string
}

func (e *MissingRequiredClaimError) Error() string {
	return "launch: missing or invalid required claims: " + strings.Join(e.Claims, ", ")
}

func (e *MissingRequiredClaimError) Is(target error) bool { return target == ErrMissingRequiredClaim }

// MissingUsernameError indicates that none of the username sources carried a
// value.
type MissingUsernameError struct{}

func (e *MissingUsernameError) Error() string { return ErrMissingUsername.Error() }

func (e *MissingUsernameError) Is(target error) bool { return target == ErrMissingUsername }
