package auth

import "github.com/ggoodman/lti13-go/launch"

// Result is the identity assigned to an authenticated launch.
type Result struct {
	// Name is the normalized username.
	Name      string    `json:"name"`
	AuthState AuthState `json:"auth_state"`
}

// AuthState carries launch details the tool keeps alongside the user.
type AuthState struct {
	// CourseID is the normalized context label.
	CourseID string      `json:"course_id"`
	UserRole launch.Role `json:"user_role" jsonschema:"enum=Instructor,enum=Learner"`
	// LMSUserID is the platform's sub claim, or Name when sub is absent.
	LMSUserID string `json:"lms_user_id"`
	// LaunchReturnURL is empty when the platform sent none.
	LaunchReturnURL string `json:"launch_return_url"`
}
