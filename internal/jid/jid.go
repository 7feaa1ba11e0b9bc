// Package jid maps phone numbers to and from conversation identifiers and
// builds the short labels shown in conversation lists.
package jid

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// FromPhone returns the canonical user JID for a phone number. Any
// non-digit characters are ignored. Input that already looks like a JID is
// normalized instead.
func FromPhone(phone string) (string, error) {
	if strings.Contains(phone, "@") {
		return Normalize(phone)
	}
	digits := digitsOnly(phone)
	if digits == "" {
		return "", fmt.Errorf("phone %q has no digits", phone)
	}
	return types.NewJID(digits, types.DefaultUserServer).String(), nil
}

// Normalize parses a JID and strips any device part.
func Normalize(s string) (string, error) {
	j, err := types.ParseJID(s)
	if err != nil {
		return "", fmt.Errorf("parse JID %q: %w", s, err)
	}
	if j.User == "" {
		return "", fmt.Errorf("JID %q has no user part", s)
	}
	return j.ToNonAD().String(), nil
}

// ToPhone returns the user part of a JID. For user conversations this is
// the phone number in international digits without a leading plus.
func ToPhone(s string) string {
	user, _, _ := strings.Cut(s, "@")
	user, _, _ = strings.Cut(user, ":")
	user, _, _ = strings.Cut(user, ".")
	return user
}

// IsGroup reports whether the JID addresses a group conversation.
func IsGroup(s string) bool {
	_, server, ok := strings.Cut(s, "@")
	return ok && server == types.GroupServer
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
