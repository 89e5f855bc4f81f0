package types

import (
	"crypto/rand"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes for every entity domain. Identifiers are time-ordered ULIDs,
// so "recent" scans over a primary key are range scans.
const (
	PrefixTurn      = "turn"
	PrefixThread    = "thr"
	PrefixMemory    = "mem"
	PrefixCapsule   = "cap"
	PrefixWorkspace = "ws"
	PrefixProject   = "proj"
	PrefixArea      = "area"
	PrefixTopic     = "topic"
)

// idPattern matches any well-formed identifier: a known prefix followed by
// a 26-character Crockford base-32 ULID.
var idPattern = regexp.MustCompile(`^(turn|thr|mem|cap|ws|proj|area|topic)_[0-9A-HJKMNP-TV-Z]{26}$`)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newID generates a prefixed, time-ordered identifier.
func newID(prefix string) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTurnID generates an identifier for a conversation turn.
func NewTurnID() string { return newID(PrefixTurn) }

// NewThreadID generates an identifier for a conversation thread.
func NewThreadID() string { return newID(PrefixThread) }

// NewMemoryID generates an identifier for a distilled memory.
func NewMemoryID() string { return newID(PrefixMemory) }

// NewCapsuleID generates an identifier for a context capsule.
func NewCapsuleID() string { return newID(PrefixCapsule) }

// NewWorkspaceID generates an identifier for a hierarchy workspace.
func NewWorkspaceID() string { return newID(PrefixWorkspace) }

// NewProjectID generates an identifier for a hierarchy project.
func NewProjectID() string { return newID(PrefixProject) }

// NewAreaID generates an identifier for a hierarchy area.
func NewAreaID() string { return newID(PrefixArea) }

// NewTopicID generates an identifier for a hierarchy topic.
func NewTopicID() string { return newID(PrefixTopic) }

// ValidID reports whether id is a well-formed prefixed identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidIDWithPrefix reports whether id is well-formed and carries the given prefix.
func ValidIDWithPrefix(id, prefix string) bool {
	return ValidID(id) && len(id) > len(prefix) && id[:len(prefix)+1] == prefix+"_"
}
