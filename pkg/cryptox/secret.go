package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for client secret hashes. These follow the
// OWASP minimum recommendation and are encoded into the PHC string so
// they can be raised later without invalidating stored hashes.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 2
	argonSaltLen        = 16
	argonKeyLen  uint32 = 32

	phcPrefix = "$argon2id$"
)

var (
	// ErrSecretMismatch is returned when a presented secret does not
	// match the stored value.
	ErrSecretMismatch = errors.New("cryptox: secret mismatch")

	// ErrMalformedHash is returned when a stored hash cannot be parsed
	// as a PHC argon2id string.
	ErrMalformedHash = errors.New("cryptox: malformed secret hash")
)

// HashSecret derives an argon2id hash of secret and returns it in PHC
// string format. The process pepper, when configured, is mixed into
// the input before derivation.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: generate salt: %w", err)
	}

	key := argon2.IDKey(pepperInput(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix,
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret checks a presented secret against a stored PHC argon2id
// hash. The comparison is constant time over the derived key.
func VerifySecret(secret, encoded string) error {
	salt, key, m, t, p, err := parsePHC(encoded)
	if err != nil {
		return err
	}

	candidate := argon2.IDKey(pepperInput(secret), salt, t, m, p, uint32(len(key)))
	if subtle.ConstantTimeCompare(candidate, key) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

// IsHashedSecret reports whether a stored secret value is a PHC
// argon2id hash rather than a plaintext shared secret.
func IsHashedSecret(value string) bool {
	return strings.HasPrefix(value, phcPrefix)
}

// CompareSecretValue checks a presented secret against a stored value
// that may be either a PHC hash or a plaintext shared secret. The
// plaintext path is constant time over the stored value.
func CompareSecretValue(secret, stored string) error {
	if IsHashedSecret(stored) {
		return VerifySecret(secret, stored)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(stored)) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

func parsePHC(encoded string) (salt, key []byte, m, t uint32, p uint8, err error) {
	parts := strings.Split(encoded, "$")
	// "" / "argon2id" / "v=19" / "m=..,t=..,p=.." / salt / hash
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, ErrMalformedHash
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, ErrMalformedHash
	}
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return nil, nil, 0, 0, 0, ErrMalformedHash
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, ErrMalformedHash
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, ErrMalformedHash
	}
	return salt, key, m, t, p, nil
}
