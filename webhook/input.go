package webhook

// Input is the registration payload for webhooks.
type Input struct {
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	Format      string            `json:"format,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`

	// Events defaults to DefaultEvents when empty.
	Events []string `json:"events,omitempty"`

	// Secret is generated when empty.
	Secret string `json:"secret,omitempty"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	URL         *string           `json:"url,omitempty"`
	Description *string           `json:"description,omitempty"`
	Format      *string           `json:"format,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Events      []string          `json:"events,omitempty"`
	Secret      *string           `json:"secret,omitempty"`
	Active      *bool             `json:"active,omitempty"`
}

// ListOpts filters webhook listing.
type ListOpts struct {
	ActiveOnly bool
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.URL == nil && p.Description == nil && p.Format == nil &&
		p.Headers == nil && p.Events == nil && p.Secret == nil && p.Active == nil
}
