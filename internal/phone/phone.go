// Package phone parses dialable phone numbers into E.164.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number carries no country code.
const DefaultRegion = "US"

// ErrInvalidNumber indicates text that is not a valid phone number.
var ErrInvalidNumber = errors.New("invalid phone number")

// Parse parses text as a phone number in region and returns it in E.164
// form. An empty region means DefaultRegion.
func Parse(text, region string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(text, region)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidNumber, text, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, text)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
