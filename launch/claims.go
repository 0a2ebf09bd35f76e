// Package launch models the claims of an LTI 1.3 resource link launch and
// derives the identity a tool assigns to the launching user.
//
// Nothing in this package performs I/O; signature verification happens
// before Decode is called.
package launch

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimPrefix is the namespace of the LTI 1.3 core claims.
const ClaimPrefix = "https://purl.imsglobal.org/spec/lti/claim/"

const (
	ClaimMessageType        = ClaimPrefix + "message_type"
	ClaimVersion            = ClaimPrefix + "version"
	ClaimDeploymentID       = ClaimPrefix + "deployment_id"
	ClaimTargetLinkURI      = ClaimPrefix + "target_link_uri"
	ClaimResourceLink       = ClaimPrefix + "resource_link"
	ClaimRoles              = ClaimPrefix + "roles"
	ClaimContext            = ClaimPrefix + "context"
	ClaimLaunchPresentation = ClaimPrefix + "launch_presentation"
	ClaimCustom             = ClaimPrefix + "custom"
	ClaimLIS                = ClaimPrefix + "lis"
)

const (
	MessageTypeResourceLink = "LtiResourceLinkRequest"
	Version13               = "1.3.0"
)

// ResourceLink is the resource_link claim. ID is kept as text even when the
// platform sends a number.
type ResourceLink struct {
	ID          string
	Title       string
	Description string
}

// Context is the context claim. Type is left as sent; platforms disagree on
// whether it is a string or a list.
type Context struct {
	ID    string
	Label string
	Title string
	Type  any
}

type LaunchPresentation struct {
	DocumentTarget string
	ReturnURL      string
	Locale         string
}

type LIS struct {
	PersonSourcedID         string
	CourseOfferingSourcedID string
	CourseSectionSourcedID  string
}

// Claims is the decoded payload of a verified launch id_token. Pointer and
// nil-slice fields distinguish an absent claim from an empty one: a roles
// claim of [] decodes to an empty non-nil slice, and a claim of the wrong
// JSON type decodes as absent.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  jwt.ClaimStrings
	Nonce     string
	ExpiresAt *jwt.NumericDate
	IssuedAt  *jwt.NumericDate

	MessageType        string
	Version            string
	DeploymentID       string
	TargetLinkURI      string
	ResourceLink       *ResourceLink
	Context            *Context
	Roles              []string
	LaunchPresentation *LaunchPresentation
	Custom             map[string]any
	LIS                *LIS

	Email      string
	Name       string
	GivenName  string
	FamilyName string

	// Raw is the verified claim map the struct was decoded from.
	Raw map[string]any
}

// Decode reads the claims a tool uses out of a verified claim map. It never
// fails: a claim of the wrong JSON type is treated as absent, so a required
// claim sent with the wrong type is reported by Validate and an optional one
// is ignored.
func Decode(raw map[string]any) *Claims {
	if raw == nil {
		raw = map[string]any{}
	}
	c := &Claims{
		Issuer:        str(raw["iss"]),
		Subject:       str(raw["sub"]),
		Audience:      audience(raw["aud"]),
		Nonce:         str(raw["nonce"]),
		ExpiresAt:     numericDate(raw["exp"]),
		IssuedAt:      numericDate(raw["iat"]),
		MessageType:   str(raw[ClaimMessageType]),
		Version:       str(raw[ClaimVersion]),
		DeploymentID:  str(raw[ClaimDeploymentID]),
		TargetLinkURI: str(raw[ClaimTargetLinkURI]),
		Roles:         stringList(raw[ClaimRoles]),
		Email:         str(raw["email"]),
		Name:          str(raw["name"]),
		GivenName:     str(raw["given_name"]),
		FamilyName:    str(raw["family_name"]),
		Raw:           raw,
	}
	if m, ok := raw[ClaimResourceLink].(map[string]any); ok {
		c.ResourceLink = &ResourceLink{
			ID:          text(m["id"]),
			Title:       str(m["title"]),
			Description: str(m["description"]),
		}
	}
	if m, ok := raw[ClaimContext].(map[string]any); ok {
		c.Context = &Context{
			ID:    text(m["id"]),
			Label: str(m["label"]),
			Title: str(m["title"]),
			Type:  m["type"],
		}
	}
	if m, ok := raw[ClaimLaunchPresentation].(map[string]any); ok {
		c.LaunchPresentation = &LaunchPresentation{
			DocumentTarget: str(m["document_target"]),
			ReturnURL:      str(m["return_url"]),
			Locale:         str(m["locale"]),
		}
	}
	if m, ok := raw[ClaimCustom].(map[string]any); ok {
		c.Custom = m
	}
	if m, ok := raw[ClaimLIS].(map[string]any); ok {
		c.LIS = &LIS{
			PersonSourcedID:         text(m["person_sourcedid"]),
			CourseOfferingSourcedID: text(m["course_offering_sourcedid"]),
			CourseSectionSourcedID:  text(m["course_section_sourcedid"]),
		}
	}
	return c
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// text is str that also accepts numbers, for identifiers some platforms send
// unquoted.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

// stringList returns nil unless v is a list. Non-string entries are dropped.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func audience(v any) jwt.ClaimStrings {
	if s, ok := v.(string); ok {
		return jwt.ClaimStrings{s}
	}
	return jwt.ClaimStrings(stringList(v))
}

func numericDate(v any) *jwt.NumericDate {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	sec, frac := math.Modf(f)
	return jwt.NewNumericDate(time.Unix(int64(sec), int64(frac*1e9)))
}

// HasSubject reports whether the sub claim was present, even if empty.
func (c *Claims) HasSubject() bool {
	if c.Raw == nil {
		return c.Subject != ""
	}
	_, ok := c.Raw["sub"]
	return ok
}

// ReturnURL is the launch presentation return_url, or "" when absent.
func (c *Claims) ReturnURL() string {
	if c.LaunchPresentation == nil {
		return ""
	}
	return c.LaunchPresentation.ReturnURL
}

// CourseLabel is the context label, or "" when the context claim is absent.
func (c *Claims) CourseLabel() string {
	if c.Context == nil {
		return ""
	}
	return c.Context.Label
}
