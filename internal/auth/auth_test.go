package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/omochice/cipherchat/pkg/protocol"
	"github.com/stretchr/testify/require"
)

var alice = protocol.Identity{ID: "u-alice", Name: "Alice", Image: "https://example.com/a.png"}

func TestNew(t *testing.T) {
	req := require.New(t)
	req.IsType(Plain{}, New("", time.Hour))
	req.IsType(&JWT{}, New("secret", time.Hour))
}

func TestPlain(t *testing.T) {
	req := require.New(t)
	token, err := Plain{}.Token(alice)
	req.NoError(err)
	req.Equal("u-alice", token)

	got, err := Plain{}.Verify(token)
	req.NoError(err)
	req.Equal("u-alice", got.ID)

	_, err = Plain{}.Token(protocol.Identity{})
	req.ErrorIs(err, ErrInvalidCredential)
	_, err = Plain{}.Verify("")
	req.ErrorIs(err, ErrInvalidCredential)
}

func TestJWT_RoundTrip(t *testing.T) {
	req := require.New(t)
	scheme := &JWT{Secret: []byte("s3cret"), TTL: time.Hour, Issuer: "cipherchat"}

	token, err := scheme.Token(alice)
	req.NoError(err)
	req.Equal(2, strings.Count(token, "."))

	got, err := scheme.Verify(token)
	req.NoError(err)
	req.Equal(alice, got)
}

func TestJWT_Rejects(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := &JWT{Secret: []byte("s3cret"), TTL: time.Minute, now: func() time.Time { return issued }}
	token, err := issuer.Token(alice)
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier *JWT
		token    string
	}{
		{"wrong secret", &JWT{Secret: []byte("other"), now: issuer.now}, token},
		{"expired", &JWT{Secret: []byte("s3cret"), now: func() time.Time { return issued.Add(time.Hour) }}, token},
		{"wrong issuer", &JWT{Secret: []byte("s3cret"), Issuer: "elsewhere", now: issuer.now}, token},
		{"garbage", &JWT{Secret: []byte("s3cret")}, "not-a-jwt"},
		{"plain id", &JWT{Secret: []byte("s3cret")}, "u-alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Verify(tt.token)
			require.ErrorIs(t, err, ErrInvalidCredential)
		})
	}
}

func TestJWT_EmptyIdentity(t *testing.T) {
	_, err := (&JWT{Secret: []byte("s")}).Token(protocol.Identity{Name: "nobody"})
	require.ErrorIs(t, err, ErrInvalidCredential)
}
