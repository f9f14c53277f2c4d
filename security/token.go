package security

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// TokenGenerator mints opaque credentials (consent tokens, access tokens).
// A single injected generator replaces ad-hoc random calls scattered per
// model, so tests can substitute a deterministic source.
type TokenGenerator interface {
	Token() string
}

// CryptoTokenGenerator produces 64-char hex tokens from crypto/rand.
type CryptoTokenGenerator struct{}

// Token returns a new random token.
func (CryptoTokenGenerator) Token() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is broken; fall back
		// to a UUID rather than handing out a predictable credential.
		return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}
	return hex.EncodeToString(buf)
}

// Tokens is the generator used throughout the application. Tests may swap it.
var Tokens TokenGenerator = CryptoTokenGenerator{}

// NewToken mints a token from the configured generator.
func NewToken() string {
	return Tokens.Token()
}

// NewAnonymousID generates the opaque identifier linking one anonymous
// participant's responses within a single submission.
func NewAnonymousID() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
