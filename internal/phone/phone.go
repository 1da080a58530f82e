// Package phone canonicalizes phone numbers before they are used as
// rate-limit keys or handed to the SMS gateway.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

const subscriberDigits = 10

var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")

	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
)

type Normalizer struct {
	countryCode string
}

func NewNormalizer(countryCode string) *Normalizer {
	return &Normalizer{countryCode: strings.TrimPrefix(countryCode, "+")}
}

func (n *Normalizer) CountryCode() string {
	return n.countryCode
}

// Normalize returns the canonical +<cc><subscriber> form. Input in any
// other shape is returned unchanged; callers that key state on the result
// should use Validate instead.
func (n *Normalizer) Normalize(raw string) string {
	digits := stripNonDigits(raw)

	switch {
	case len(digits) == subscriberDigits:
		return "+" + n.countryCode + digits
	case len(digits) == len(n.countryCode)+subscriberDigits && strings.HasPrefix(digits, n.countryCode):
		return "+" + digits
	case len(raw) == len(n.countryCode)+subscriberDigits+1 && strings.HasPrefix(raw, "+"+n.countryCode):
		return raw
	}

	return raw
}

// Validate normalizes raw and rejects anything that is not a subscriber
// number under the configured country code.
func (n *Normalizer) Validate(raw string) (string, error) {
	normalized := n.Normalize(strings.TrimSpace(raw))

	if !e164Pattern.MatchString(normalized) {
		return "", ErrInvalidPhoneNumber
	}
	if !strings.HasPrefix(normalized, "+"+n.countryCode) ||
		len(normalized) != 1+len(n.countryCode)+subscriberDigits {
		return "", ErrInvalidPhoneNumber
	}

	return normalized, nil
}

// Mask hides all but the last four characters. Values of four characters
// or fewer are returned as is.
func Mask(phoneNumber string) string {
	if len(phoneNumber) <= 4 {
		return phoneNumber
	}
	return strings.Repeat("*", len(phoneNumber)-4) + phoneNumber[len(phoneNumber)-4:]
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
