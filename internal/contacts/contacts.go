// Package contacts reads the rider's emergency contact list. The list is
// maintained elsewhere; this package only fetches and flattens it.
package contacts

import (
	"context"
	"net/mail"
	"strings"
)

type Contact struct {
	Name  string `json:"name" yaml:"name" db:"name"`
	Email string `json:"email" yaml:"email" db:"email"`
}

// Source fetches the current contact list for the configured rider.
type Source interface {
	Contacts(ctx context.Context) ([]Contact, error)
}

// Emails flattens contacts into a normalized recipient list.
func Emails(cs []Contact) []string {
	raw := make([]string, 0, len(cs))
	for _, c := range cs {
		raw = append(raw, c.Email)
	}
	return NormalizeEmails(raw)
}

// NormalizeEmails trims, drops invalid addresses and removes duplicates
// (case-insensitive), keeping the first occurrence and the input order.
func NormalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Name != "" {
			continue
		}
		key := strings.ToLower(addr.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr.Address)
	}
	return out
}

// Static serves a fixed list, typically from the config file.
type Static []Contact

func (s Static) Contacts(context.Context) ([]Contact, error) {
	return append([]Contact(nil), s...), nil
}
