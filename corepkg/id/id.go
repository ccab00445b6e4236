// Package id defines the branded identifier types used throughout the
// engine (spec.md §3.1): delimiter-safe opaque strings matching
// [a-z0-9_-]+, binary-representable IDs built from 16 random bytes
// base32-lower-nopad encoded, and sha256:<hex> content digests.
package id

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/google/uuid"
)

// SessionId, RunId, NodeId and AttemptId are branded string types so the
// compiler catches accidental cross-assignment between identifier
// kinds; their underlying representation is always delimiter-safe.
type (
	SessionId    string
	RunId        string
	NodeId       string
	AttemptId    string
	WorkflowHash string
	SnapshotRef  string
	EventId      string
)

// delimiterSafe matches spec.md §3.1's shape: [a-z0-9_-]+.
var delimiterSafe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ErrInvalidDelimiterSafeID is returned when a candidate ID string does
// not match [a-z0-9_-]+.
var ErrInvalidDelimiterSafeID = errors.New("INVALID_DELIMITER_SAFE_ID")

// ValidateDelimiterSafe reports an error unless s matches [a-z0-9_-]+.
func ValidateDelimiterSafe(s string) error {
	if s == "" || !delimiterSafe.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidDelimiterSafeID, s)
	}
	return nil
}

// base32lower is RFC 4648 base32 with a lowercase alphabet and no
// padding, matching spec.md §3.1's "base32-lowercase-no-pad" rule.
var base32lower = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// EncodeBase32Lower encodes b as lowercase, unpadded base32.
func EncodeBase32Lower(b []byte) string {
	return strings.ToLower(base32lower.EncodeToString(b))
}

// DecodeBase32Lower decodes a lowercase, unpadded base32 string.
func DecodeBase32Lower(s string) ([]byte, error) {
	return base32lower.DecodeString(s)
}

// randomSuffix returns the base32lower encoding of n cryptographically
// random bytes.
func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("id: read random bytes: %w", err)
	}
	return EncodeBase32Lower(buf), nil
}

// NewSessionId mints a fresh sess_<base32lower of 16 random bytes> ID.
func NewSessionId() (SessionId, error) {
	s, err := randomSuffix(16)
	if err != nil {
		return "", err
	}
	return SessionId("sess_" + s), nil
}

// NewRunId mints a fresh run_<base32lower of 16 random bytes> ID.
func NewRunId() (RunId, error) {
	s, err := randomSuffix(16)
	if err != nil {
		return "", err
	}
	return RunId("run_" + s), nil
}

// NewNodeId mints a fresh node_<base32lower of 16 random bytes> ID.
func NewNodeId() (NodeId, error) {
	s, err := randomSuffix(16)
	if err != nil {
		return "", err
	}
	return NodeId("node_" + s), nil
}

// DeriveAttemptId derives a child attempt ID deterministically from its
// parent via SHA-256, per spec.md §3.1 ("AttemptId: derived
// deterministically from parent attempt via SHA-256"). The root node
// has no parent attempt; coreapi derives its attempt by passing a
// constant seed as parent.
func DeriveAttemptId(parent AttemptId, nodeID NodeId) AttemptId {
	h := sha256.New()
	h.Write([]byte(parent))
	h.Write([]byte("|"))
	h.Write([]byte(nodeID))
	sum := h.Sum(nil)
	return AttemptId("attempt_" + EncodeBase32Lower(sum[:16]))
}

// NewAttemptId mints a fresh attempt_<base32lower of 16 random bytes>
// ID.
func NewAttemptId() (AttemptId, error) {
	s, err := randomSuffix(16)
	if err != nil {
		return "", err
	}
	return AttemptId("attempt_" + s), nil
}

// NewEventId mints a fresh evt_<base32lower of 16 random bytes> ID.
// Callers building a session-store append plan mint these themselves
// (along with the eventIndex) before the plan reaches Append; the
// store itself only validates contiguity and uniqueness, it does not
// assign identifiers.
func NewEventId() (EventId, error) {
	s, err := randomSuffix(16)
	if err != nil {
		return "", err
	}
	return EventId("evt_" + s), nil
}

// Sha256Hex returns "sha256:<hex>" for the SHA-256 digest of b.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DigestCanonical canonicalizes v and returns its "sha256:<hex>"
// digest, the identity scheme used for snapshots, pinned workflows and
// artifacts (spec.md §3.4, §4.3, §4.7).
func DigestCanonical(v any) (string, error) {
	b, err := canonjson.Marshal(v)
	if err != nil {
		return "", err
	}
	return Sha256Hex(b), nil
}

var digestPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// ErrInvalidDigest is returned when a string does not match the
// sha256:<64 lowercase hex> shape.
var ErrInvalidDigest = errors.New("invalid sha256 digest form")

// NewTempSuffix returns a collision-resistant suffix for scratch file
// names (e.g. "<final>.tmp-<suffix>") so two concurrent writers or a
// writer racing a crash-recovery pass never collide on the same
// temporary path; advance also appends one to each context_set
// dedupeKey so that every context_set event gets a distinct key. It is
// a UUID string, distinct from the session/run/node/attempt ID scheme
// above, which must stay base32lower-nopad per spec.md §3.1, and is
// never used as one of those identifiers.
func NewTempSuffix() string {
	return uuid.NewString()
}

// ValidateDigest reports an error unless s is "sha256:" followed by 64
// lowercase hex characters.
func ValidateDigest(s string) error {
	if !digestPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	return nil
}
