// Package replay plays scripted tracking scenarios into a stand controller,
// either in process or through a simulated AR client connected to a kiosk.
package replay

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// Scenario is a scripted sequence of tracking batches:
//
//	name = "walk past"
//
//	[[step]]
//	delay_ms = 0
//	added = [{ image = "posterA", position = [0, 0, -1], size = [0.4, 0.6] }]
//
//	[[step]]
//	delay_ms = 1500
//	removed = ["posterA"]
type Scenario struct {
	Name  string `toml:"name"`
	Steps []Step `toml:"step"`
}

// Step is one batch, sent after DelayMS since the previous step.
type Step struct {
	Note    string     `toml:"note"`
	DelayMS int        `toml:"delay_ms"`
	Added   []Sighting `toml:"added"`
	Updated []Sighting `toml:"updated"`
	Removed []string   `toml:"removed"`
	Clear   bool       `toml:"clear"`
}

// Sighting is one observed image. Status defaults to "tracking" and a zero
// rotation to the identity.
type Sighting struct {
	Image    string     `toml:"image"`
	Status   string     `toml:"status"`
	Position [3]float64 `toml:"position"`
	Rotation [4]float64 `toml:"rotation"` // x, y, z, w
	Size     [2]float64 `toml:"size"`
}

// Delay returns the wait before the step.
func (s Step) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// Batch converts the step to a tracking batch.
func (s Step) Batch() (stand.Batch, error) {
	var b stand.Batch
	for _, sg := range s.Added {
		obs, err := sg.Observation()
		if err != nil {
			return b, err
		}
		b.Added = append(b.Added, obs)
	}
	for _, sg := range s.Updated {
		obs, err := sg.Observation()
		if err != nil {
			return b, err
		}
		b.Updated = append(b.Updated, obs)
	}
	for _, id := range s.Removed {
		b.Removed = append(b.Removed, stand.ImageIdentity(strings.TrimSpace(id)))
	}
	return b, nil
}

// Observation converts the sighting.
func (sg Sighting) Observation() (stand.Observation, error) {
	status := stand.StatusTracking
	if sg.Status != "" {
		if err := status.UnmarshalText([]byte(sg.Status)); err != nil {
			return stand.Observation{}, fmt.Errorf("%s: %w", sg.Image, err)
		}
	}

	rot := stand.Quat{X: sg.Rotation[0], Y: sg.Rotation[1], Z: sg.Rotation[2], W: sg.Rotation[3]}
	if rot == (stand.Quat{}) {
		rot.W = 1
	}

	return stand.Observation{
		Identity: stand.ImageIdentity(strings.TrimSpace(sg.Image)),
		Pose: stand.Pose{
			Position: stand.Vec3{X: sg.Position[0], Y: sg.Position[1], Z: sg.Position[2]},
			Rotation: rot,
		},
		Size:   stand.Vec2{X: sg.Size[0], Y: sg.Size[1]},
		Status: status,
	}, nil
}

// Validate checks that every step does something and names its images.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("scenario has no steps")
	}
	for i, st := range sc.Steps {
		if st.DelayMS < 0 {
			return fmt.Errorf("step %d: negative delay", i+1)
		}
		b, err := st.Batch()
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if b.Empty() && !st.Clear {
			return fmt.Errorf("step %d: nothing to do", i+1)
		}
		for _, obs := range append(append([]stand.Observation(nil), b.Added...), b.Updated...) {
			if obs.Identity == "" {
				return fmt.Errorf("step %d: sighting without image", i+1)
			}
		}
		for _, id := range b.Removed {
			if id == "" {
				return fmt.Errorf("step %d: empty removal", i+1)
			}
		}
	}
	return nil
}

// Duration returns the sum of all step delays.
func (sc *Scenario) Duration() time.Duration {
	var d time.Duration
	for _, st := range sc.Steps {
		d += st.Delay()
	}
	return d
}

// ParseScenario decodes and validates a TOML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}
