package jid

import (
	"strings"

	"github.com/samber/oops"
)

// ID is an address of the form local@domain/resource. The local part and the
// resource are optional; the domain is not. The zero value is the "no
// recipient" address.
type ID struct {
	local    string
	domain   string
	resource string
}

// New builds an ID from its parts. Local part and domain are case-folded,
// the resource is kept verbatim.
func New(local, domain, resource string) (ID, error) {
	if domain == "" {
		return ID{}, oops.Errorf("jid: domain must not be empty")
	}
	if strings.ContainsAny(local, "@/") {
		return ID{}, oops.Errorf("jid: local part %q contains a separator", local)
	}
	if strings.ContainsAny(domain, "@/") {
		return ID{}, oops.Errorf("jid: domain %q contains a separator", domain)
	}
	return ID{
		local:    strings.ToLower(local),
		domain:   strings.ToLower(domain),
		resource: resource,
	}, nil
}

// Parse parses the textual form of an ID. An empty string parses to the zero
// ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, nil
	}

	rest, resource, hasResource := strings.Cut(s, "/")
	if hasResource && resource == "" {
		return ID{}, oops.Errorf("jid: empty resource in %q", s)
	}

	local, domain, hasLocal := strings.Cut(rest, "@")
	if !hasLocal {
		domain, local = local, ""
	} else if local == "" {
		return ID{}, oops.Errorf("jid: empty local part in %q", s)
	}
	if strings.Contains(domain, "@") {
		return ID{}, oops.Errorf("jid: multiple '@' in %q", s)
	}

	id, err := New(local, domain, resource)
	if err != nil {
		return ID{}, oops.Wrapf(err, "jid: parse %q", s)
	}
	return id, nil
}

// MustParse is like Parse but panics on error. Intended for constants and
// tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Local returns the local part, possibly empty.
func (id ID) Local() string { return id.local }

// Domain returns the domain part.
func (id ID) Domain() string { return id.domain }

// Resource returns the resource part, empty for general-form IDs.
func (id ID) Resource() string { return id.resource }

// IsZero reports whether id is the unspecified address.
func (id ID) IsZero() bool { return id == ID{} }

// IsFull reports whether id names one specific resource.
func (id ID) IsFull() bool { return id.resource != "" }

// GeneralForm returns id with the resource stripped.
func (id ID) GeneralForm() ID {
	return ID{local: id.local, domain: id.domain}
}

// WithResource returns the full-form ID for resource under id's owner.
func (id ID) WithResource(resource string) ID {
	return ID{local: id.local, domain: id.domain, resource: resource}
}

// Owner returns the textual general form, local@domain.
func (id ID) Owner() string {
	if id.local == "" {
		return id.domain
	}
	return id.local + "@" + id.domain
}

func (id ID) String() string {
	if id.resource == "" {
		return id.Owner()
	}
	return id.Owner() + "/" + id.resource
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
