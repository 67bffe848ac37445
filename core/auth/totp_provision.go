package auth

import (
	"crypto/rand"
	"encoding/base32"
	"net/url"
	"strconv"
	"strings"
)

const totpSecretBytes = 20

// TOTPEnrollment is a freshly generated, not yet confirmed authenticator secret.
type TOTPEnrollment struct {
	Secret string
	URI    string
}

// NewEnrollment generates a 160-bit secret and the otpauth:// URI an
// authenticator app needs to produce codes matching c.
func (c TOTPConfig) NewEnrollment(issuer, account string) (TOTPEnrollment, error) {
	buf := make([]byte, totpSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return TOTPEnrollment{}, err
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return TOTPEnrollment{Secret: secret, URI: c.provisioningURI(issuer, account, secret)}, nil
}

func (c TOTPConfig) provisioningURI(issuer, account, secret string) string {
	c = c.normalized()
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "Merchant Guard"
	}
	label := issuer
	if account = strings.TrimSpace(account); account != "" {
		label += ":" + account
	}
	q := url.Values{
		"secret":    {secret},
		"issuer":    {issuer},
		"algorithm": {"SHA1"},
		"digits":    {strconv.Itoa(c.Digits)},
		"period":    {strconv.FormatInt(c.PeriodSec, 10)},
	}
	u := url.URL{Scheme: "otpauth", Host: "totp", Path: "/" + label, RawQuery: q.Encode()}
	return u.String()
}
