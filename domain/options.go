package domain

// Options is a partial update of a player's options. Nil fields are left
// untouched by the node.
type Options struct {
	Volume    *float64       `json:"volume,omitempty"`
	Crossfade *float64       `json:"crossfade,omitempty"`
	Autoplay  *bool          `json:"autoplay,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
}

// Float is a literal-to-pointer helper for Options fields.
func Float(v float64) *float64 { return &v }

// Bool is a literal-to-pointer helper for Options fields.
func Bool(v bool) *bool { return &v }
