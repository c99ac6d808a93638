package types

import "testing"

func TestRegistrationSetMergeLastLoadedWins(t *testing.T) {
	older := NewRegistrationSet()
	older.Tasks["greet"] = TaskHandle{Name: "greet", Container: ContainerRef{Generation: 1}}

	newer := NewRegistrationSet()
	newer.Tasks["greet"] = TaskHandle{Name: "greet", Container: ContainerRef{Generation: 2}}

	merged := older.Merge(newer)

	if got := merged.Tasks["greet"].Container.Generation; got != 2 {
		t.Fatalf("expected last-loaded-wins to keep generation 2, got %d", got)
	}
	if len(merged.Warnings) != 1 {
		t.Fatalf("expected exactly one duplicate warning, got %d: %v", len(merged.Warnings), merged.Warnings)
	}
}

func TestRegistrationSetMergeNoCollision(t *testing.T) {
	a := NewRegistrationSet()
	a.Tasks["a"] = TaskHandle{Name: "a"}

	b := NewRegistrationSet()
	b.Tasks["b"] = TaskHandle{Name: "b"}

	merged := a.Merge(b)

	if len(merged.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(merged.Tasks))
	}
	if len(merged.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", merged.Warnings)
	}
}

func TestRegistrationSetEmpty(t *testing.T) {
	s := NewRegistrationSet()
	if !s.Empty() {
		t.Fatalf("expected fresh set to be empty")
	}
	s.Tasks["x"] = TaskHandle{Name: "x"}
	if s.Empty() {
		t.Fatalf("expected set with a task to be non-empty")
	}
}

func TestArtifactKey(t *testing.T) {
	a := Artifact{ID: "payments", Version: "1.2.3"}
	k := a.Key()
	if k.ID != "payments" || k.Version != "1.2.3" {
		t.Fatalf("unexpected key: %+v", k)
	}
}
