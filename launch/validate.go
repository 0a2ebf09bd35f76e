package launch

// Validate checks that c is an LTI 1.3 resource link launch carrying every
// claim a tool needs. All problems are reported together in a single
// *MissingRequiredClaimError.
func Validate(c *Claims) error {
	if c == nil {
		return &MissingRequiredClaimError{Claims: []string{"claims"}}
	}
	var missing []string
	if c.MessageType != MessageTypeResourceLink {
		missing = append(missing, ClaimMessageType)
	}
	if c.Version != Version13 {
		missing = append(missing, ClaimVersion)
	}
	if c.DeploymentID == "" {
		missing = append(missing, ClaimDeploymentID)
	}
	if c.TargetLinkURI == "" {
		missing = append(missing, ClaimTargetLinkURI)
	}
	if c.ResourceLink == nil {
		missing = append(missing, ClaimResourceLink)
	}
	// An empty roles list is a valid anonymous launch.
	if c.Roles == nil {
		missing = append(missing, ClaimRoles)
	}
	switch {
	case c.Context == nil:
		missing = append(missing, ClaimContext)
	case c.Context.Label == "":
		missing = append(missing, ClaimContext+"#label")
	}
	if len(missing) > 0 {
		return &MissingRequiredClaimError{Claims: missing}
	}
	return nil
}
