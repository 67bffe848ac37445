package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTOTPSecret = errors.New("invalid totp secret")

// TOTPConfig follows RFC 6238 parameters.
type TOTPConfig struct {
	PeriodSec int64
	Digits    int
	Skew      int64
}

func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{PeriodSec: 30, Digits: 6, Skew: 1}
}

func (c TOTPConfig) normalized() TOTPConfig {
	if c.PeriodSec <= 0 {
		c.PeriodSec = 30
	}
	if c.Digits <= 0 {
		c.Digits = 6
	}
	if c.Skew < 0 {
		c.Skew = 0
	}
	return c
}

func NormalizeTOTPCode(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, " ", ""))
}

// VerifyTOTP accepts codes within cfg.Skew periods of now.
func VerifyTOTP(secretBase32 string, code string, now time.Time, cfg TOTPConfig) (bool, error) {
	secret, err := decodeBase32Secret(secretBase32)
	if err != nil {
		return false, err
	}
	cfg = cfg.normalized()
	code = NormalizeTOTPCode(code)
	if len(code) != cfg.Digits {
		return false, nil
	}
	if _, err := strconv.Atoi(code); err != nil {
		return false, nil
	}
	counter := now.UTC().Unix() / cfg.PeriodSec
	for i := -cfg.Skew; i <= cfg.Skew; i++ {
		if hmac.Equal([]byte(totpAt(secret, counter+i, cfg.Digits)), []byte(code)) {
			return true, nil
		}
	}
	return false, nil
}

func ComputeTOTPCode(secretBase32 string, now time.Time, cfg TOTPConfig) (string, error) {
	secret, err := decodeBase32Secret(secretBase32)
	if err != nil {
		return "", err
	}
	cfg = cfg.normalized()
	return totpAt(secret, now.UTC().Unix()/cfg.PeriodSec, cfg.Digits), nil
}

func decodeBase32Secret(secretBase32 string) ([]byte, error) {
	val := strings.ToUpper(strings.TrimSpace(secretBase32))
	val = strings.ReplaceAll(val, " ", "")
	val = strings.ReplaceAll(val, "-", "")
	if val == "" {
		return nil, ErrInvalidTOTPSecret
	}
	b, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(val)
	if err != nil || len(b) < 10 {
		return nil, ErrInvalidTOTPSecret
	}
	return b, nil
}

func totpAt(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	bin := int(binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff)
	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}
