// Package token implements the capability token codec of spec.md §4.4:
// short, versioned, HMAC-signed strings that bind a session/run/node/
// attempt coordinate without ever being persisted. Grounded on the
// teacher's checkpoint ID / hashing conventions in graph/checkpoint.go
// (sha256-derived identifiers, constant-time-safe comparisons are the
// style this package generalizes into a signed token).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/id"
)

// Kind is the closed set of token kinds, each with its own prefix.
type Kind string

const (
	KindState      Kind = "state"
	KindAck        Kind = "ack"
	KindCheckpoint Kind = "checkpoint"
)

func (k Kind) prefix() (string, error) {
	switch k {
	case KindState:
		return "st1", nil
	case KindAck:
		return "ack1", nil
	case KindCheckpoint:
		return "chk1", nil
	default:
		return "", fmt.Errorf("%w: unknown token kind %q", ErrMalformed, k)
	}
}

func prefixToKind(prefix string) (Kind, bool) {
	switch prefix {
	case "st1":
		return KindState, true
	case "ack1":
		return KindAck, true
	case "chk1":
		return KindCheckpoint, true
	default:
		return "", false
	}
}

// Payload binds the coordinate a capability token authorizes. WorkflowHashRef
// is only meaningful for state tokens.
type Payload struct {
	TokenKind       Kind         `json:"tokenKind"`
	SessionId       id.SessionId `json:"sessionId"`
	RunId           id.RunId     `json:"runId"`
	NodeId          id.NodeId    `json:"nodeId"`
	AttemptId       id.AttemptId `json:"attemptId"`
	WorkflowHashRef string       `json:"workflowHashRef,omitempty"`
}

// Errors per spec.md §4.4.
var (
	ErrMalformed        = fmt.Errorf("TOKEN_MALFORMED")
	ErrKindMismatch     = fmt.Errorf("TOKEN_KIND_MISMATCH")
	ErrSignatureInvalid = fmt.Errorf("TOKEN_SIGNATURE_INVALID")
)

const macByteLength = 32

// Mint produces a token string for p, signed with key. Tokens are not
// durable: callers mint a fresh one on every load and never persist
// the string itself in an event.
func Mint(key []byte, p Payload) (string, error) {
	prefix, err := p.TokenKind.prefix()
	if err != nil {
		return "", err
	}
	canonical, err := canonjson.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	sig := mac.Sum(nil)

	return prefix + id.EncodeBase32Lower(canonical) + id.EncodeBase32Lower(sig), nil
}

// Verify splits, authenticates and decodes a token string, rejecting
// it unless it was signed with key and its tokenKind matches want.
func Verify(key []byte, want Kind, token string) (Payload, error) {
	var zero Payload

	wantPrefix, err := want.prefix()
	if err != nil {
		return zero, err
	}
	if !strings.HasPrefix(token, wantPrefix) {
		// Might still be malformed vs. a real kind mismatch; check below.
		for _, p := range []string{"st1", "ack1", "chk1"} {
			if strings.HasPrefix(token, p) {
				return zero, fmt.Errorf("%w: token has prefix %q, expected %q", ErrKindMismatch, p, wantPrefix)
			}
		}
		return zero, fmt.Errorf("%w: unrecognized token prefix", ErrMalformed)
	}

	body := token[len(wantPrefix):]
	// The canonical-payload segment and the MAC segment are both
	// base32lower; the MAC is fixed-length (32 bytes -> 52 base32
	// chars with no padding), so it can be split from the tail.
	macChars := base32LenForBytes(macByteLength)
	if len(body) <= macChars {
		return zero, fmt.Errorf("%w: token too short", ErrMalformed)
	}
	payloadPart := body[:len(body)-macChars]
	sigPart := body[len(body)-macChars:]

	canonical, err := id.DecodeBase32Lower(payloadPart)
	if err != nil {
		return zero, fmt.Errorf("%w: payload segment: %v", ErrMalformed, err)
	}
	sig, err := id.DecodeBase32Lower(sigPart)
	if err != nil {
		return zero, fmt.Errorf("%w: signature segment: %v", ErrMalformed, err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, sig) != 1 {
		return zero, ErrSignatureInvalid
	}

	var p Payload
	if err := canonjson.UnmarshalInto(canonical, &p); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.TokenKind != want {
		return zero, fmt.Errorf("%w: payload tokenKind %q != %q", ErrKindMismatch, p.TokenKind, want)
	}
	return p, nil
}

// base32LenForBytes returns the unpadded base32 character length for
// n raw bytes: ceil(n*8/5).
func base32LenForBytes(n int) int {
	bits := n * 8
	return (bits + 4) / 5
}

// KindFromPrefix is exported for callers that need to sniff a token's
// declared kind before choosing which Verify to call (e.g. a router
// dispatching on token type).
func KindFromPrefix(token string) (Kind, bool) {
	for _, p := range []string{"st1", "ack1", "chk1"} {
		if strings.HasPrefix(token, p) {
			k, ok := prefixToKind(p)
			return k, ok
		}
	}
	return "", false
}
