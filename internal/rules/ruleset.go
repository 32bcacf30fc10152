// Package rules holds the per-exercise rule tables and the phase state
// machine that evaluates smoothed joint angles against them.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

//go:embed rulesets.yaml
var embeddedRuleSets []byte

// ErrUnknownExercise is returned when a requested exercise id has no rule
// table in the registry.
var ErrUnknownExercise = errors.New("unknown exercise")

// MaxSmoothingWindow caps the per-angle smoothing buffer.
const MaxSmoothingWindow = 3

// Direction classifies which side of a valid range was violated.
type Direction string

const (
	DirectionLow  Direction = "low"
	DirectionHigh Direction = "high"
)

// Rule is one valid-range check for an angle within a phase. Messages are
// the human-readable feedback lines per violation direction; an empty
// message means that direction is never reported.
type Rule struct {
	Angle   string  `yaml:"angle"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	LowMsg  string  `yaml:"low"`
	HighMsg string  `yaml:"high"`
}

// Phase is one named stage of an exercise with its ordered rule list.
type Phase struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

// Transition moves the state machine between phases when the smoothed
// trigger angle reaches the threshold. "below" fires at values less than or
// equal to the threshold, "above" at values greater than or equal; the
// inclusive pair gives the hysteresis band between entry and exit.
type Transition struct {
	From      string  `yaml:"from"`
	To        string  `yaml:"to"`
	Angle     string  `yaml:"angle"`
	When      string  `yaml:"when"` // "below" or "above"
	Threshold float64 `yaml:"threshold"`
}

type angleDefYAML struct {
	Name   string `yaml:"name"`
	Points [3]int `yaml:"points"`
}

// RuleSet is the immutable description of one exercise: the angles it
// watches, the phase cycle, and the transition triggers. Loaded once at
// startup and shared read-only across sessions.
type RuleSet struct {
	ID        string         `yaml:"id"`
	RestPhase string         `yaml:"rest_phase"`
	Smoothing int            `yaml:"smoothing"`
	Praise    string         `yaml:"praise"`
	AngleDefs []angleDefYAML `yaml:"angles"`
	Phases    []Phase        `yaml:"phases"`
	Trans     []Transition   `yaml:"transitions"`
}

// Angles returns the angle definitions this exercise needs computed.
func (rs *RuleSet) Angles() []types.AngleDef {
	defs := make([]types.AngleDef, len(rs.AngleDefs))
	for i, a := range rs.AngleDefs {
		defs[i] = types.AngleDef{Name: a.Name, A: a.Points[0], B: a.Points[1], C: a.Points[2]}
	}
	return defs
}

func (rs *RuleSet) phase(name string) *Phase {
	for i := range rs.Phases {
		if rs.Phases[i].Name == name {
			return &rs.Phases[i]
		}
	}
	return nil
}

func (rs *RuleSet) validate() error {
	if rs.ID == "" {
		return fmt.Errorf("rule set missing id")
	}
	if rs.Smoothing < 1 || rs.Smoothing > MaxSmoothingWindow {
		return fmt.Errorf("%s: smoothing window %d out of [1,%d]", rs.ID, rs.Smoothing, MaxSmoothingWindow)
	}
	if rs.phase(rs.RestPhase) == nil {
		return fmt.Errorf("%s: rest phase %q not defined", rs.ID, rs.RestPhase)
	}
	known := make(map[string]bool, len(rs.AngleDefs))
	for _, a := range rs.AngleDefs {
		for _, p := range a.Points {
			if p < 0 || p >= types.NumLandmarks {
				return fmt.Errorf("%s: angle %s references landmark %d out of range", rs.ID, a.Name, p)
			}
		}
		known[a.Name] = true
	}
	for _, ph := range rs.Phases {
		for _, r := range ph.Rules {
			if !known[r.Angle] {
				return fmt.Errorf("%s: phase %s rule references unknown angle %q", rs.ID, ph.Name, r.Angle)
			}
			if r.Min > r.Max {
				return fmt.Errorf("%s: phase %s angle %s has min %v > max %v", rs.ID, ph.Name, r.Angle, r.Min, r.Max)
			}
		}
	}
	for _, tr := range rs.Trans {
		if rs.phase(tr.From) == nil || rs.phase(tr.To) == nil {
			return fmt.Errorf("%s: transition %s->%s references unknown phase", rs.ID, tr.From, tr.To)
		}
		if !known[tr.Angle] {
			return fmt.Errorf("%s: transition %s->%s references unknown angle %q", rs.ID, tr.From, tr.To, tr.Angle)
		}
		if tr.When != "below" && tr.When != "above" {
			return fmt.Errorf("%s: transition %s->%s has invalid trigger %q", rs.ID, tr.From, tr.To, tr.When)
		}
	}
	return nil
}

// Registry maps exercise ids to their rule sets.
type Registry struct {
	sets map[string]*RuleSet
}

type registryYAML struct {
	Exercises []*RuleSet `yaml:"exercises"`
}

// Load parses rule tables from YAML.
func Load(data []byte) (*Registry, error) {
	var doc registryYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule sets: %w", err)
	}
	if len(doc.Exercises) == 0 {
		return nil, fmt.Errorf("no exercises defined")
	}
	reg := &Registry{sets: make(map[string]*RuleSet, len(doc.Exercises))}
	for _, rs := range doc.Exercises {
		if rs.Smoothing == 0 {
			rs.Smoothing = 2
		}
		if err := rs.validate(); err != nil {
			return nil, err
		}
		if _, dup := reg.sets[rs.ID]; dup {
			return nil, fmt.Errorf("duplicate exercise id %q", rs.ID)
		}
		reg.sets[rs.ID] = rs
	}
	return reg, nil
}

// LoadFile parses rule tables from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule sets: %w", err)
	}
	return Load(data)
}

// Embedded returns the registry built from the compiled-in tables.
func Embedded() (*Registry, error) {
	return Load(embeddedRuleSets)
}

// Get returns the rule set for an exercise id.
func (r *Registry) Get(id string) (*RuleSet, bool) {
	rs, ok := r.sets[id]
	return rs, ok
}

// IDs lists the registered exercise ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sets))
	for id := range r.sets {
		ids = append(ids, id)
	}
	return ids
}
