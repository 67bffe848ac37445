package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var ErrTOTPSecretDecryptFailed = errors.New("totp secret decrypt failed")

// TOTP secrets are sealed with AES-256-GCM under sha256("merchant-guard:totp:" + pepper).
// The stored value is base64(nonce || ciphertext).
func totpAEAD(pepper string) (cipher.AEAD, error) {
	pepper = strings.TrimSpace(pepper)
	if pepper == "" {
		return nil, errors.New("empty pepper")
	}
	key := sha256.Sum256([]byte("merchant-guard:totp:" + pepper))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func EncryptTOTPSecret(secretBase32 string, pepper string) (string, error) {
	aead, err := totpAEAD(pepper)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(secretBase32)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(strings.TrimSpace(secretBase32)), nil)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

// DecryptTOTPSecret returns "" for an empty column; any other failure,
// including a pepper change, is ErrTOTPSecretDecryptFailed.
func DecryptTOTPSecret(secretEnc string, pepper string) (string, error) {
	secretEnc = strings.TrimSpace(secretEnc)
	if secretEnc == "" {
		return "", nil
	}
	aead, err := totpAEAD(pepper)
	if err != nil {
		return "", err
	}
	raw, err := base64.RawStdEncoding.DecodeString(secretEnc)
	if err != nil || len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrTOTPSecretDecryptFailed
	}
	ns := aead.NonceSize()
	plain, err := aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrTOTPSecretDecryptFailed
	}
	return strings.TrimSpace(string(plain)), nil
}
