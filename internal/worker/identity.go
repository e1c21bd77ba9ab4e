package worker

import "strings"

// Identity describes the worker instance for subscribe-subject
// templates. HostOrdinal is the trailing "-N" segment of the hostname,
// following the stable-pod naming convention, so each replica consumes
// its own request subject.
type Identity struct {
	Hostname    string
	HostOrdinal string
	Key         string
}

// NewIdentity derives an identity from a hostname and worker key.
func NewIdentity(hostname, key string) Identity {
	ordinal := hostname
	if i := strings.LastIndex(hostname, "-"); i >= 0 {
		ordinal = hostname[i+1:]
	}
	return Identity{
		Hostname:    hostname,
		HostOrdinal: ordinal,
		Key:         key,
	}
}

// Fields returns the template fields resolved at subscription-build time.
func (id Identity) Fields() map[string]any {
	return map[string]any{
		"hostname":    id.Hostname,
		"hostOrdinal": id.HostOrdinal,
		"key":         id.Key,
	}
}
