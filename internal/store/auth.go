package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. These are deliberately modest since Aegis runs the
// hash on a local control-plane login, not a high-throughput service; they
// still resist offline brute force of the local config file far better
// than a bare salted SHA-256 would.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16

	minPasswordLength = 6
)

// ErrPasswordTooShort is returned by HashPassword when the candidate
// password is shorter than minPasswordLength.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLength)

// HashPassword derives an Argon2id hash of password with a fresh random
// salt and returns it encoded as "argon2id$t$m$p$salt$hash" (all of
// salt/hash hex-encoded), self-describing so parameters can change later
// without invalidating already-stored hashes.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		argonTime, argonMemory, argonThreads,
		hex.EncodeToString(salt), hex.EncodeToString(hash)), nil
}

// VerifyPassword checks password against an encoded hash produced by
// HashPassword, using a constant-time comparison of the derived key.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false, fmt.Errorf("malformed password hash")
	}

	t, err := strconv.Atoi(parts[1])
	if err != nil {
		return false, fmt.Errorf("malformed password hash time param: %w", err)
	}
	m, err := strconv.Atoi(parts[2])
	if err != nil {
		return false, fmt.Errorf("malformed password hash memory param: %w", err)
	}
	p, err := strconv.Atoi(parts[3])
	if err != nil {
		return false, fmt.Errorf("malformed password hash threads param: %w", err)
	}
	salt, err := hex.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed password hash salt: %w", err)
	}
	want, err := hex.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed password hash digest: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, uint32(t), uint32(m), uint8(p), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NewSessionToken generates a 128-bit random, URL-safe session token.
func NewSessionToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
