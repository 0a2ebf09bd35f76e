package launch

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is the coarse role a tool assigns to a launching user.
type Role string

const (
	Instructor Role = "Instructor"
	Learner    Role = "Learner"
)

// RoleResolver maps the platform's role URIs to a Role.
type RoleResolver func(roles []string) Role

// ResolveRole scans every role in platform order. An entry containing
// "Instructor" sets Instructor and one containing "Learner" or "Student" sets
// Learner; the last matching entry decides. Launches with no matching role
// resolve to Learner.
func ResolveRole(roles []string) Role {
	role := Learner
	for _, r := range roles {
		if m, ok := matchRole(r); ok {
			role = m
		}
	}
	return role
}

// ResolveRoleFirstMatch is ResolveRole with the first matching entry deciding.
func ResolveRoleFirstMatch(roles []string) Role {
	for _, r := range roles {
		if m, ok := matchRole(r); ok {
			return m
		}
	}
	return Learner
}

func matchRole(r string) (Role, bool) {
	switch {
	case strings.Contains(r, "Instructor"):
		return Instructor, true
	case strings.Contains(r, "Learner"), strings.Contains(r, "Student"):
		return Learner, true
	}
	return "", false
}

// LMSUserIDKey is the custom claim carrying a platform user id.
const LMSUserIDKey = "lms_user_id"

// ResolveUsername picks the first non-empty username source in priority
// order: email local part, name, given_name, family_name, LIS
// person_sourcedid (lower-cased), custom lms_user_id. The result is passed
// through NormalizeString. ErrMissingUsername is returned when every source is
// empty or the chosen one normalizes to nothing.
func ResolveUsername(c *Claims) (string, error) {
	username := NormalizeString(rawUsername(c))
	if username == "" {
		return "", &MissingUsernameError{}
	}
	return username, nil
}

func rawUsername(c *Claims) string {
	if c == nil {
		return ""
	}
	switch {
	case c.Email != "":
		return EmailToUsername(c.Email)
	case c.Name != "":
		return c.Name
	case c.GivenName != "":
		return c.GivenName
	case c.FamilyName != "":
		return c.FamilyName
	case c.LIS != nil && c.LIS.PersonSourcedID != "":
		return strings.ToLower(c.LIS.PersonSourcedID)
	}
	return customString(c.Custom[LMSUserIDKey])
}

// customString renders a custom claim value as text. Zero values (0, false,
// "", null) count as absent.
func customString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if !t {
			return ""
		}
		return strconv.FormatBool(t)
	case []any:
		if len(t) == 0 {
			return ""
		}
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
	}
	return fmt.Sprint(v)
}
