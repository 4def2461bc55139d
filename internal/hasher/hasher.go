// Package hasher produces and checks salted one-way digests for passwords and
// refresh tokens at rest.
package hasher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyInput is returned when hashing an empty value.
var ErrEmptyInput = errors.New("hasher: empty input")

const saltLength = 16

// Params are the argon2id cost parameters.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   4,
		KeyLength: 32,
	}
}

// Hasher hashes secrets with argon2id and verifies both argon2id and legacy
// bcrypt digests.
type Hasher struct {
	params Params
}

// New creates a Hasher. Zero fields in p fall back to DefaultParams.
func New(p Params) *Hasher {
	d := DefaultParams()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = d.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	if p.KeyLength == 0 {
		p.KeyLength = d.KeyLength
	}
	return &Hasher{params: p}
}

// Hash returns a PHC-encoded argon2id digest of plaintext with a fresh salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	p := h.params
	key := argon2.IDKey([]byte(plaintext), salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches digest. A malformed digest never
// matches.
func (h *Hasher) Verify(digest, plaintext string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
	}

	d, err := decode(digest)
	if err != nil {
		return false
	}

	key := argon2.IDKey([]byte(plaintext), d.salt, d.params.Time, d.params.MemoryKiB, d.params.Threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash:
// legacy bcrypt digests, and argon2id digests with other parameters.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	d, err := decode(digest)
	if err != nil {
		return true
	}
	p := h.params
	return d.params.Time != p.Time ||
		d.params.MemoryKiB != p.MemoryKiB ||
		d.params.Threads != p.Threads ||
		uint32(len(d.key)) != p.KeyLength
}

type decoded struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(digest string) (*decoded, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, errors.New("not an argon2id digest")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var d decoded
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.MemoryKiB, &d.params.Time, &d.params.Threads); err != nil {
		return nil, fmt.Errorf("parse params: %w", err)
	}
	if d.params.Time == 0 || d.params.Threads == 0 {
		return nil, errors.New("invalid params")
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(d.key) == 0 {
		return nil, errors.New("empty key")
	}
	d.params.KeyLength = uint32(len(d.key))

	return &d, nil
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}
