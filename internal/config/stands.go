package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// StandFile is the on-disk layout of the stand configuration:
//
//	[[stand]]
//	image = "posterA"
//	name  = "intro-stand"
//	video = "media/intro.mp4"
//	audio = "media/intro.ogg"
//	scale = true
//	scale_factor = 1.5
type StandFile struct {
	Stands []StandEntry `toml:"stand"`
}

// StandEntry binds one reference image to a stand template.
type StandEntry struct {
	Image       string  `toml:"image"`
	Name        string  `toml:"name"`
	Video       string  `toml:"video"`
	Audio       string  `toml:"audio"`
	Loop        *bool   `toml:"loop"` // Defaults to true
	Scale       bool    `toml:"scale"`
	ScaleFactor float64 `toml:"scale_factor"`
	Stretch     bool    `toml:"stretch"`
}

// Template converts the entry to a stand template.
func (e StandEntry) Template() *stand.Template {
	tmpl := &stand.Template{
		Name: strings.TrimSpace(e.Name),
		Loop: e.Loop == nil || *e.Loop,
	}
	if tmpl.Name == "" {
		tmpl.Name = strings.TrimSpace(e.Image)
	}
	if v := strings.TrimSpace(e.Video); v != "" {
		tmpl.Video = &stand.MediaSpec{URI: v}
	}
	if a := strings.TrimSpace(e.Audio); a != "" {
		tmpl.Audio = &stand.MediaSpec{URI: a}
	}
	if e.Scale {
		tmpl.Scale = &stand.ScaleOptions{Factor: e.ScaleFactor, Stretch: e.Stretch}
	}
	return tmpl
}

// ParseStands decodes TOML into a validated configuration.
func ParseStands(data []byte) (stand.Configuration, error) {
	var file StandFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode stands: %w", err)
	}

	bindings := make([]stand.Binding, 0, len(file.Stands))
	for _, e := range file.Stands {
		bindings = append(bindings, stand.Binding{
			Identity: stand.ImageIdentity(e.Image),
			Template: e.Template(),
		})
	}
	return stand.NewConfiguration(bindings)
}

// LoadStands reads and parses a stand configuration file.
func LoadStands(path string) (stand.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stands file: %w", err)
	}
	cfg, err := ParseStands(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
