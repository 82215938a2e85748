package identity

import (
	"os"
	"regexp"
	"testing"
)

func TestNew_ReturnsNonEmpty(t *testing.T) {
	id := New()

	if id.Owner == "" {
		t.Error("Owner should not be empty")
	}
	if id.Host == "" {
		t.Error("Host should not be empty")
	}
	if id.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", id.PID, os.Getpid())
	}
	if id.AgentID == "" {
		t.Error("AgentID should not be empty")
	}
}

func TestNew_MintsDistinctOwners(t *testing.T) {
	t.Setenv(EnvOwner, "")

	a := New()
	b := New()
	if a.Owner == b.Owner {
		t.Errorf("expected distinct owner ids, both were %q", a.Owner)
	}
}

func TestNew_OwnerLooksLikeUUID(t *testing.T) {
	t.Setenv(EnvOwner, "")

	id := New()
	matched, err := regexp.MatchString(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id.Owner)
	if err != nil {
		t.Fatalf("regexp error: %v", err)
	}
	if !matched {
		t.Errorf("Owner = %q, want a UUIDv4", id.Owner)
	}
}

func TestNew_EnvOverride(t *testing.T) {
	t.Setenv(EnvOwner, "fixed-owner-42")

	id := New()
	if id.Owner != "fixed-owner-42" {
		t.Errorf("Owner = %q, want %q", id.Owner, "fixed-owner-42")
	}
}

func TestNew_EnvOverrideStable(t *testing.T) {
	t.Setenv(EnvOwner, "shared-owner")

	a := New()
	b := New()
	if a.Owner != b.Owner {
		t.Errorf("expected same owner under EnvOwner override, got %q and %q", a.Owner, b.Owner)
	}
}

func TestAgentID_Deterministic(t *testing.T) {
	a := agentID()
	b := agentID()
	if a != b {
		t.Errorf("agentID() not deterministic within a process: %q != %q", a, b)
	}
	matched, err := regexp.MatchString(`^agent-[0-9a-f]{8}$`, a)
	if err != nil {
		t.Fatalf("regexp error: %v", err)
	}
	if !matched {
		t.Errorf("agentID() = %q, want pattern agent-XXXXXXXX", a)
	}
}
