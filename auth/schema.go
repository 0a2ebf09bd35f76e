package auth

import (
	"github.com/invopop/jsonschema"
)

// ResultSchema describes the JSON encoding of Result, for consumers that
// receive launch results from another process.
func ResultSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(Result))
	s.Title = "LTI 1.3 launch result"
	return s
}
