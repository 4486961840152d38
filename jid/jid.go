// Package jid parses and formats network addresses of the form
// local@domain/resource.
package jid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned when an address cannot be parsed.
var ErrInvalid = errors.New("invalid address")

// JID is a network address. Local and Domain are stored lower-cased.
type JID struct {
	Local    string
	Domain   string
	Resource string
}

// Parse parses s into a JID. The domain part is required.
func Parse(s string) (JID, error) {
	var j JID

	rest := s

	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		j.Resource = rest[idx+1:]
		rest = rest[:idx]

		if j.Resource == "" {
			return JID{}, fmt.Errorf("%w: empty resource in %q", ErrInvalid, s)
		}
	}

	if idx := strings.IndexByte(rest, '@'); idx >= 0 {
		j.Local = strings.ToLower(rest[:idx])
		rest = rest[idx+1:]

		if j.Local == "" {
			return JID{}, fmt.Errorf("%w: empty local part in %q", ErrInvalid, s)
		}
	}

	j.Domain = strings.ToLower(rest)

	if j.Domain == "" || strings.ContainsAny(j.Domain, "@ ") {
		return JID{}, fmt.Errorf("%w: bad domain in %q", ErrInvalid, s)
	}

	return j, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return j
}

// Bare returns the address without its resource.
func (j JID) Bare() JID {
	return JID{Local: j.Local, Domain: j.Domain}
}

// IsZero reports whether j is the zero JID.
func (j JID) IsZero() bool {
	return j.Domain == ""
}

// String formats j as local@domain/resource, omitting empty parts.
func (j JID) String() string {
	var b strings.Builder

	if j.Local != "" {
		b.WriteString(j.Local)
		b.WriteByte('@')
	}

	b.WriteString(j.Domain)

	if j.Resource != "" {
		b.WriteByte('/')
		b.WriteString(j.Resource)
	}

	return b.String()
}

// Topic returns the name of the pubsub topic owned by j: its bare address.
func (j JID) Topic() string {
	return j.Bare().String()
}

// PubSubService returns the default pubsub service for j's domain.
func (j JID) PubSubService() string {
	return "pubsub." + j.Domain
}

// Canonical normalizes a topic identifier to its bare address form.
// Identifiers without a domain take fallbackDomain. Any resource is dropped.
func Canonical(topic, fallbackDomain string) string {
	if topic == "" {
		return ""
	}

	if !strings.Contains(topic, "@") && fallbackDomain != "" {
		topic = topic + "@" + fallbackDomain
	}

	j, err := Parse(topic)
	if err != nil {
		return strings.ToLower(topic)
	}

	return j.Topic()
}
