package rulesets

import (
	"testing"

	"beatlib/internal/library"
)

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		id   int
		want string
	}{
		{0, "standard"},
		{1, "taiko"},
		{2, "catch"},
		{3, "mania"},
	}
	for _, tt := range tests {
		rs := r.Lookup(tt.id)
		if rs == nil {
			t.Fatalf("Lookup(%d) = nil", tt.id)
		}
		if rs.Name() != tt.want {
			t.Errorf("Lookup(%d).Name() = %q, want %q", tt.id, rs.Name(), tt.want)
		}
		if rs.ID() != tt.id {
			t.Errorf("Lookup(%d).ID() = %d", tt.id, rs.ID())
		}
	}

	if rs := r.Lookup(99); rs != nil {
		t.Errorf("Lookup(99) = %v, want nil", rs)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(custom{})
	if rs := r.Lookup(7); rs == nil || rs.Name() != "custom" {
		t.Errorf("Lookup(7) = %v, want custom ruleset", rs)
	}
}

type custom struct{}

func (custom) ID() int                                { return 7 }
func (custom) Name() string                           { return "custom" }
func (custom) Difficulty(*library.Descriptor) float64 { return 1 }

func TestDifficulty(t *testing.T) {
	rs := NewRegistry().Lookup(0)

	t.Run("no objects rates zero", func(t *testing.T) {
		d := &library.Descriptor{OverallDifficulty: 9}
		if got := rs.Difficulty(d); got != 0 {
			t.Errorf("Difficulty() = %v, want 0", got)
		}
	})

	t.Run("rating grows with object count", func(t *testing.T) {
		sparse := &library.Descriptor{OverallDifficulty: 5, ObjectCount: 10}
		dense := &library.Descriptor{OverallDifficulty: 5, ObjectCount: 1000}
		if rs.Difficulty(dense) <= rs.Difficulty(sparse) {
			t.Errorf("dense %v <= sparse %v", rs.Difficulty(dense), rs.Difficulty(sparse))
		}
	})

	t.Run("rating grows with overall difficulty", func(t *testing.T) {
		easy := &library.Descriptor{OverallDifficulty: 2, ObjectCount: 100}
		hard := &library.Descriptor{OverallDifficulty: 9, ObjectCount: 100}
		if rs.Difficulty(hard) <= rs.Difficulty(easy) {
			t.Errorf("hard %v <= easy %v", rs.Difficulty(hard), rs.Difficulty(easy))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		d := &library.Descriptor{OverallDifficulty: 6.4, ObjectCount: 321}
		if rs.Difficulty(d) != rs.Difficulty(d) {
			t.Error("Difficulty() not deterministic")
		}
	})
}
