// Package auth holds the single shared-secret gate in front of the inventory.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash signals a malformed Argon2id hash string.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// Params are the Argon2id settings embedded in every encoded hash.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultParams follow the OWASP minimum for Argon2id.
var DefaultParams = Params{
	Memory:      19 * 1024,
	Time:        2,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

// Gate accepts exactly one secret. Only a salted key derived from it is kept in
// memory.
type Gate struct {
	params Params
	salt   []byte
	key    []byte
}

// NewGate derives a gate from the plaintext secret.
func NewGate(secret string) (*Gate, error) {
	encoded, err := HashPassword(secret)
	if err != nil {
		return nil, err
	}
	return NewGateFromHash(encoded)
}

// NewGateFromHash builds a gate from an encoded
// $argon2id$v=19$m=..,t=..,p=..$salt$key string.
func NewGateFromHash(encoded string) (*Gate, error) {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		return nil, err
	}
	return &Gate{params: params, salt: salt, key: key}, nil
}

// Authenticate reports whether input equals the configured secret.
func (g *Gate) Authenticate(input string) bool {
	computed := argon2.IDKey([]byte(input), g.salt, g.params.Time, g.params.Memory, g.params.Parallelism, g.params.KeyLen)
	return subtle.ConstantTimeCompare(g.key, computed) == 1
}

// HashPassword returns an encoded Argon2id hash of secret using DefaultParams.
func HashPassword(secret string) (string, error) {
	return hashWithParams(secret, DefaultParams)
}

func hashWithParams(secret string, params Params) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Parallelism, params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	var params Params
	for _, token := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return Params{}, nil, nil, ErrInvalidHash
		}
		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Params{}, nil, nil, ErrInvalidHash
			}
			params.Memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Params{}, nil, nil, ErrInvalidHash
			}
			params.Time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return Params{}, nil, nil, ErrInvalidHash
			}
			params.Parallelism = uint8(v)
		}
	}
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	params.SaltLen = uint32(len(salt))
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
