package auth_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ggoodman/lti13-go/auth"
)

func TestResultSchema(t *testing.T) {
	s := auth.ResultSchema()
	if s.Type != "object" {
		t.Fatalf("type = %q", s.Type)
	}
	if _, ok := s.Properties.Get("auth_state"); !ok {
		t.Fatal("auth_state property missing")
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"course_id"`, `"user_role"`, `"lms_user_id"`, `"launch_return_url"`, `"Instructor"`, `"Learner"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("schema lacks %s", want)
		}
	}
}
