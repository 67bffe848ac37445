package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedPasswordHash = errors.New("malformed password hash")

// PasswordParams are the argon2id cost settings. They are encoded into every
// stored hash so older hashes keep verifying after the defaults change.
type PasswordParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

var DefaultPasswordParams = PasswordParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

const (
	passwordKeyLen  = 32
	passwordSaltLen = 16
)

// PasswordHash mirrors the accounts table: Hash carries the encoded params
// and derived key, Salt is stored separately.
type PasswordHash struct {
	Hash   string
	Salt   string
	params PasswordParams
	key    []byte
}

func HashPassword(password, pepper string) (*PasswordHash, error) {
	return DefaultPasswordParams.Hash(password, pepper)
}

func (p PasswordParams) Hash(password, pepper string) (*PasswordHash, error) {
	salt := make([]byte, passwordSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := p.derive(password, pepper, salt)
	return &PasswordHash{
		Hash:   fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s", p.MemoryKiB, p.Time, p.Threads, base64.RawStdEncoding.EncodeToString(key)),
		Salt:   base64.RawStdEncoding.EncodeToString(salt),
		params: p,
		key:    key,
	}, nil
}

// the pepper keys an HMAC over the password so it never reaches argon2 as
// plain concatenated input
func (p PasswordParams) derive(password, pepper string, salt []byte) []byte {
	mac := hmac.New(sha256.New, []byte(pepper))
	_, _ = mac.Write([]byte(password))
	return argon2.IDKey(mac.Sum(nil), salt, p.Time, p.MemoryKiB, p.Threads, passwordKeyLen)
}

// VerifyPassword compares in constant time; a nil hash never matches.
func VerifyPassword(password, pepper string, stored *PasswordHash) (bool, error) {
	if stored == nil {
		return false, nil
	}
	if stored.key == nil {
		parsed, err := ParsePasswordHash(stored.Hash, stored.Salt)
		if err != nil {
			return false, err
		}
		stored = parsed
	}
	salt, err := base64.RawStdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrMalformedPasswordHash
	}
	key := stored.params.derive(password, pepper, salt)
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

func MustHashPassword(password, pepper string) *PasswordHash {
	p, err := HashPassword(password, pepper)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePasswordHash decodes the "argon2id$m=..,t=..,p=..$key" column value.
func ParsePasswordHash(hash, salt string) (*PasswordHash, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 3 || parts[0] != "argon2id" || salt == "" {
		return nil, ErrMalformedPasswordHash
	}
	var p PasswordParams
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return nil, ErrMalformedPasswordHash
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return nil, ErrMalformedPasswordHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(key) != passwordKeyLen {
		return nil, ErrMalformedPasswordHash
	}
	return &PasswordHash{Hash: hash, Salt: salt, params: p, key: key}, nil
}
