package rules

import "testing"

func TestEmbeddedTablesLoad(t *testing.T) {
	reg, err := Embedded()
	if err != nil {
		t.Fatalf("load embedded rule sets: %v", err)
	}
	for _, id := range []string{"squat", "lunge", "pushup"} {
		rs, ok := reg.Get(id)
		if !ok {
			t.Fatalf("exercise %q missing", id)
		}
		if rs.phase(rs.RestPhase) == nil {
			t.Fatalf("%s: rest phase %q undefined", id, rs.RestPhase)
		}
		if len(rs.Angles()) == 0 {
			t.Fatalf("%s: no angle definitions", id)
		}
	}
	if _, ok := reg.Get("deadlift"); ok {
		t.Fatal("unexpected exercise registered")
	}
}

func TestLoadRejectsBadTables(t *testing.T) {
	cases := map[string]string{
		"unknown rest phase": `
exercises:
  - id: squat
    rest_phase: floating
    angles: [{name: knee, points: [23, 25, 27]}]
    phases: [{name: standing}]
`,
		"landmark out of range": `
exercises:
  - id: squat
    rest_phase: standing
    angles: [{name: knee, points: [23, 25, 99]}]
    phases: [{name: standing}]
`,
		"rule references unknown angle": `
exercises:
  - id: squat
    rest_phase: standing
    angles: [{name: knee, points: [23, 25, 27]}]
    phases:
      - name: standing
        rules: [{angle: hip, min: 0, max: 180}]
`,
		"invalid trigger": `
exercises:
  - id: squat
    rest_phase: standing
    angles: [{name: knee, points: [23, 25, 27]}]
    phases: [{name: standing}, {name: descending}]
    transitions:
      - {from: standing, to: descending, angle: knee, when: sideways, threshold: 90}
`,
		"duplicate id": `
exercises:
  - id: squat
    rest_phase: standing
    angles: [{name: knee, points: [23, 25, 27]}]
    phases: [{name: standing}]
  - id: squat
    rest_phase: standing
    angles: [{name: knee, points: [23, 25, 27]}]
    phases: [{name: standing}]
`,
	}

	for name, doc := range cases {
		if _, err := Load([]byte(doc)); err == nil {
			t.Errorf("%s: expected load error", name)
		}
	}
}
