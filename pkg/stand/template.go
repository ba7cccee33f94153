package stand

import (
	"sort"
	"strings"
)

// MediaSpec points at the media a presentation should load.
type MediaSpec struct {
	URI string `json:"uri"`
}

// Template describes what to instantiate for one reference image.
type Template struct {
	Name  string        `json:"name"`
	Video *MediaSpec    `json:"video,omitempty"` // nil: no video on this stand
	Audio *MediaSpec    `json:"audio,omitempty"` // nil: no audio on this stand
	Loop  bool          `json:"loop"`
	Scale *ScaleOptions `json:"scale,omitempty"` // nil: keep the template's own scale
}

// Binding pairs an image identity with its template.
type Binding struct {
	Identity ImageIdentity
	Template *Template
}

// Configuration maps image identities to presentation templates.
type Configuration map[ImageIdentity]*Template

// NewConfiguration builds a configuration from bindings, rejecting duplicates.
func NewConfiguration(bindings []Binding) (Configuration, error) {
	cfg := make(Configuration, len(bindings))
	for _, b := range bindings {
		id := ImageIdentity(strings.TrimSpace(string(b.Identity)))
		if _, dup := cfg[id]; dup {
			return nil, &ConfigurationError{Identity: id, Reason: "duplicate identity"}
		}
		cfg[id] = b.Template
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every binding. Errors are reported in identity order.
func (c Configuration) Validate() error {
	for _, id := range c.Identities() {
		tmpl := c[id]
		switch {
		case strings.TrimSpace(string(id)) == "":
			return &ConfigurationError{Identity: id, Reason: "empty identity"}
		case tmpl == nil:
			return &ConfigurationError{Identity: id, Reason: "no template"}
		case strings.TrimSpace(tmpl.Name) == "":
			return &ConfigurationError{Identity: id, Reason: "template has no name"}
		case tmpl.Scale != nil && tmpl.Scale.Factor < 0:
			return &ConfigurationError{Identity: id, Reason: "negative scale factor"}
		}
	}
	return nil
}

// Identities returns the configured identities, sorted.
func (c Configuration) Identities() []ImageIdentity {
	ids := make([]ImageIdentity, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a shallow copy so callers cannot mutate the controller's map.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for id, tmpl := range c {
		out[id] = tmpl
	}
	return out
}
