// Package presence stores client registrations: where a named client can be
// reached and until when.
package presence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
)

var (
	// ErrEmptyUser indicates a registration without a user name.
	ErrEmptyUser = errors.New("user cannot be empty")

	// ErrInvalidContact indicates a registration whose contact is not a SIP URI.
	ErrInvalidContact = errors.New("invalid contact URI")

	// ErrExpired indicates a registration whose expiry is already in the past.
	ErrExpired = errors.New("registration already expired")
)

// Record is one registration of a client.
type Record struct {
	ID           string    `json:"id"`
	User         string    `json:"user"`
	ContactURI   string    `json:"contact_uri"`
	UserAgent    string    `json:"user_agent,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Live reports whether the record is still valid at now.
func (r Record) Live(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// RecordID derives the stable identifier of a user's contact.
func RecordID(user, contactURI string) string {
	hash := sha256.Sum256([]byte(user + "|" + contactURI))
	return hex.EncodeToString(hash[:8])
}

// Validate checks the record and fills ID and RegisteredAt if unset.
func (r *Record) Validate(now time.Time) error {
	if r.User == "" {
		return ErrEmptyUser
	}
	if err := ValidateContact(r.ContactURI); err != nil {
		return err
	}
	if !r.Live(now) {
		return ErrExpired
	}
	if r.ID == "" {
		r.ID = RecordID(r.User, r.ContactURI)
	}
	if r.RegisteredAt.IsZero() {
		r.RegisteredAt = now
	}
	return nil
}

// ValidateContact checks that contact parses as a SIP URI.
func ValidateContact(contact string) error {
	if contact == "" {
		return fmt.Errorf("%w: empty", ErrInvalidContact)
	}
	var uri sip.Uri
	if err := sip.ParseUri(contact, &uri); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidContact, contact, err)
	}
	if uri.Host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidContact, contact)
	}
	return nil
}

// Store persists registrations.
type Store interface {
	// Register adds or refreshes a registration.
	Register(ctx context.Context, r Record) (Record, error)

	// Unregister removes the registration of contactURI for user.
	Unregister(ctx context.Context, user, contactURI string) error

	// RecordsByUser returns the user's registrations that have not expired.
	RecordsByUser(ctx context.Context, user string) ([]Record, error)

	Close() error
}
