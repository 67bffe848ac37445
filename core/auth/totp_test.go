package auth

import (
	"strings"
	"testing"
	"time"
)

func TestTOTPRoundTrip(t *testing.T) {
	cfg := DefaultTOTPConfig()
	enrollment, err := cfg.NewEnrollment("", "ann")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	secret := enrollment.Secret
	now := time.Now()
	code, err := ComputeTOTPCode(secret, now, cfg)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if ok, _ := VerifyTOTP(secret, code, now, cfg); !ok {
		t.Fatalf("current code must verify")
	}
	if ok, _ := VerifyTOTP(secret, code, now.Add(30*time.Second), cfg); !ok {
		t.Fatalf("code from previous period must verify within skew")
	}
	if ok, _ := VerifyTOTP(secret, code, now.Add(5*time.Minute), cfg); ok {
		t.Fatalf("stale code must not verify")
	}
	if ok, _ := VerifyTOTP(secret, "12ab56", now, cfg); ok {
		t.Fatalf("non-numeric code must not verify")
	}
}

func TestTOTPKnownVector(t *testing.T) {
	// RFC 6238 SHA1 seed "12345678901234567890" at T=59s, 8 digits.
	secret := "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	code, err := ComputeTOTPCode(secret, time.Unix(59, 0), TOTPConfig{PeriodSec: 30, Digits: 8})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if code != "94287082" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestTOTPSecretEncryption(t *testing.T) {
	enc, err := EncryptTOTPSecret("JBSWY3DPEHPK3PXP", "pepper")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := DecryptTOTPSecret(enc, "pepper")
	if err != nil || plain != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("decrypt: %q %v", plain, err)
	}
	if _, err := DecryptTOTPSecret(enc, "other"); err != ErrTOTPSecretDecryptFailed {
		t.Fatalf("wrong pepper must fail, got %v", err)
	}
	again, _ := EncryptTOTPSecret("JBSWY3DPEHPK3PXP", "pepper")
	if again == enc {
		t.Fatalf("each seal must use a fresh nonce")
	}
	raw := []byte(enc)
	raw[len(raw)-2] ^= 0x01
	if _, err := DecryptTOTPSecret(string(raw), "pepper"); err != ErrTOTPSecretDecryptFailed {
		t.Fatalf("tampered secret must fail, got %v", err)
	}
}

func TestEnrollmentURI(t *testing.T) {
	e, err := TOTPConfig{PeriodSec: 60, Digits: 8}.NewEnrollment("", "ann")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if len(e.Secret) != 32 {
		t.Fatalf("expected 160-bit base32 secret, got %q", e.Secret)
	}
	if !strings.HasPrefix(e.URI, "otpauth://totp/Merchant%20Guard:ann?") || !strings.Contains(e.URI, "secret="+e.Secret) {
		t.Fatalf("unexpected uri %s", e.URI)
	}
	if !strings.Contains(e.URI, "digits=8") || !strings.Contains(e.URI, "period=60") {
		t.Fatalf("uri must carry the code parameters: %s", e.URI)
	}
}

func TestPasswordHashing(t *testing.T) {
	ph, err := HashPassword("Secret#Pass123", "pep")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ok, _ := VerifyPassword("Secret#Pass123", "pep", ph); !ok {
		t.Fatalf("password must verify")
	}
	if ok, _ := VerifyPassword("Secret#Pass123", "other", ph); ok {
		t.Fatalf("wrong pepper must not verify")
	}
	if ok, _ := VerifyPassword("x", "pep", nil); ok {
		t.Fatalf("nil hash must not verify")
	}
	parsed, err := ParsePasswordHash(ph.Hash, ph.Salt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ok, _ := VerifyPassword("Secret#Pass123", "pep", parsed); !ok {
		t.Fatalf("parsed hash must verify")
	}
}

func TestPasswordHashCarriesParams(t *testing.T) {
	cheap := PasswordParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}
	ph, err := cheap.Hash("Secret#Pass123", "pep")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(ph.Hash, "argon2id$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %s", ph.Hash)
	}
	parsed, err := ParsePasswordHash(ph.Hash, ph.Salt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ok, _ := VerifyPassword("Secret#Pass123", "pep", parsed); !ok {
		t.Fatalf("hash made with non-default params must verify")
	}
	for _, bad := range []string{"", "bcrypt$x$y", "argon2id$m=0,t=1,p=1$AAAA", "argon2id$m=8192,t=1,p=1$short"} {
		if _, err := ParsePasswordHash(bad, ph.Salt); err != ErrMalformedPasswordHash {
			t.Fatalf("%q: expected ErrMalformedPasswordHash, got %v", bad, err)
		}
	}
}
