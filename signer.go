package attrsession

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	minSecretLength = 32
	signatureSep    = "."
)

var (
	// ErrNoSecret is returned when signing is enabled without any secret.
	ErrNoSecret = errors.New("no signing secret configured")

	// ErrSecretTooShort is returned for secrets shorter than 32 bytes.
	ErrSecretTooShort = errors.New("signing secret too short")

	// ErrInvalidSignature is returned when a token is malformed or was not signed by any configured secret.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer authenticates session ids carried in cookies with HMAC-SHA256.
// The first secret signs; every secret verifies, which allows key rotation.
// A Signer holds no per-request state and is safe for concurrent use.
type Signer struct {
	secrets [][]byte
}

// NewSigner returns a Signer for the given secrets. Empty entries are ignored.
func NewSigner(secrets ...string) (*Signer, error) {
	secrets = slices.DeleteFunc(slices.Clone(secrets), func(s string) bool { return s == "" })
	if len(secrets) == 0 {
		return nil, ErrNoSecret
	}

	keys := make([][]byte, 0, len(secrets))
	for i, s := range secrets {
		if len(s) < minSecretLength {
			return nil, fmt.Errorf("%w: secret %d has %d chars, need at least %d", ErrSecretTooShort, i, len(s), minSecretLength)
		}
		keys = append(keys, []byte(s))
	}
	return &Signer{secrets: keys}, nil
}

// Sign returns id followed by its base64url signature.
func (s *Signer) Sign(id string) string {
	return id + signatureSep + s.signature(s.secrets[0], id)
}

// Unsign verifies token and returns the id it carries.
func (s *Signer) Unsign(token string) (string, error) {
	i := strings.LastIndex(token, signatureSep)
	if i <= 0 || i == len(token)-1 {
		return "", ErrInvalidSignature
	}
	id, sig := token[:i], token[i+1:]

	for _, secret := range s.secrets {
		if subtle.ConstantTimeCompare([]byte(sig), []byte(s.signature(secret, id))) == 1 {
			return id, nil
		}
	}
	return "", ErrInvalidSignature
}

func (s *Signer) signature(secret []byte, value string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
