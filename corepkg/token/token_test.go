package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durableflow/engine/corepkg/id"
)

func testPayload() Payload {
	return Payload{
		TokenKind: KindState,
		SessionId: id.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		RunId:     id.RunId("run_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		NodeId:    id.NodeId("node_cccccccccccccccccccccccccccccccc"),
		AttemptId: id.AttemptId("attempt_dddddddddddddddddddddddddddddddd"),
	}
}

func TestMintVerify_RoundTrip(t *testing.T) {
	key := []byte("test-signing-key")
	p := testPayload()

	tok, err := Mint(key, p)
	require.NoError(t, err)
	assert.Regexp(t, `^st1[a-z2-7]+$`, tok)

	got, err := Verify(key, KindState, tok)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestVerify_WrongKey(t *testing.T) {
	tok, err := Mint([]byte("key-a"), testPayload())
	require.NoError(t, err)

	_, err = Verify([]byte("key-b"), KindState, tok)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_KindMismatch(t *testing.T) {
	key := []byte("test-signing-key")
	tok, err := Mint(key, testPayload())
	require.NoError(t, err)

	_, err = Verify(key, KindAck, tok)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestVerify_Malformed(t *testing.T) {
	key := []byte("test-signing-key")

	_, err := Verify(key, KindState, "st1")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Verify(key, KindState, "not-a-token")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerify_TamperedPayload(t *testing.T) {
	key := []byte("test-signing-key")
	tok, err := Mint(key, testPayload())
	require.NoError(t, err)

	tampered := tok[:3] + flipLastChar(tok[3:4]) + tok[4:]
	_, err = Verify(key, KindState, tampered)
	assert.Error(t, err)
}

func flipLastChar(s string) string {
	if s == "a" {
		return "b"
	}
	return "a"
}

func TestKindFromPrefix(t *testing.T) {
	key := []byte("test-signing-key")
	tok, err := Mint(key, testPayload())
	require.NoError(t, err)

	k, ok := KindFromPrefix(tok)
	require.True(t, ok)
	assert.Equal(t, KindState, k)

	_, ok = KindFromPrefix("zzz123")
	assert.False(t, ok)
}
