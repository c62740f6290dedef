package extension

import (
	"fmt"
	"strings"
)

// Identifier names an extension as "publisher.name". The ID compares
// case-insensitively; when both sides carry a UUID, the UUID wins.
type Identifier struct {
	ID   string `json:"id"`
	UUID string `json:"uuid,omitempty"`
}

// NewIdentifier builds an identifier from publisher and name.
func NewIdentifier(publisher, name string) Identifier {
	return Identifier{ID: publisher + "." + name}
}

// Same reports whether two identifiers refer to the same extension.
func (i Identifier) Same(other Identifier) bool {
	if i.UUID != "" && other.UUID != "" {
		return i.UUID == other.UUID
	}
	return strings.EqualFold(i.ID, other.ID)
}

// Publisher returns the publisher half of the ID.
func (i Identifier) Publisher() string {
	publisher, _, _ := strings.Cut(i.ID, ".")
	return publisher
}

// Name returns the name half of the ID.
func (i Identifier) Name() string {
	_, name, _ := strings.Cut(i.ID, ".")
	return name
}

// ParseID validates and splits a "publisher.name" string.
func ParseID(id string) (publisher, name string, err error) {
	publisher, name, ok := strings.Cut(id, ".")
	if !ok || publisher == "" || name == "" {
		return "", "", fmt.Errorf("invalid extension id %q, expected publisher.name", id)
	}
	return publisher, name, nil
}
