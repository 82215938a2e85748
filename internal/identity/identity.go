// Package identity mints the owner id a rwlock handle presents to the
// store, plus diagnostic metadata surfaced by info/audit/doctor.
package identity

import (
	"fmt"
	"hash/fnv"
	"os"
	"os/user"

	"github.com/google/uuid"
)

// EnvOwner, when set, fixes the owner id instead of minting a fresh UUID.
// Useful for tests and for scripted multi-process coordination where two
// processes must present as the same owner (e.g. a supervisor renewing a
// lock a worker acquired).
const EnvOwner = "RWLOCK_OWNER"

// Identity is the opaque owner id plus non-authoritative diagnostics.
// Only Owner is ever compared by the store; Host/PID/AgentID exist purely
// for humans reading `info`/`audit`/`doctor` output.
type Identity struct {
	Owner   string
	Host    string
	PID     int
	AgentID string
}

// New mints a fresh Identity. Each call produces a new globally-unique
// Owner (a UUIDv4) unless EnvOwner is set, in which case that value is
// used verbatim — callers that need a stable owner across process
// restarts or across cooperating processes must set EnvOwner themselves.
func New() Identity {
	owner := os.Getenv(EnvOwner)
	if owner == "" {
		owner = uuid.NewString()
	}
	return Identity{
		Owner:   owner,
		Host:    getHost(),
		PID:     os.Getpid(),
		AgentID: agentID(),
	}
}

func getHost() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}

// agentID is a short, deterministic, human-friendly tag derived from the
// OS user and PID. Unlike Owner it is not unique (processes of the same
// user with the same PID, e.g. on different hosts or after PID reuse, get
// the same tag) — it exists only to make audit logs easier to eyeball,
// never to identify a lock holder.
func agentID() string {
	who := "unknown"
	if u, err := user.Current(); err == nil {
		who = u.Username
	}
	input := fmt.Sprintf("%s-%d", who, os.Getpid())
	h := fnv.New32a()
	_, _ = h.Write([]byte(input))
	return fmt.Sprintf("agent-%08x", h.Sum32())
}
