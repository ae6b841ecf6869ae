// Package auth - access.go defines module access levels used by per-group module grants.
package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AccessLevel is an ordered module access level: None < View < Edit < Full.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessView
	AccessEdit
	AccessFull
)

var accessLevelNames = [...]string{
	AccessNone: "none",
	AccessView: "view",
	AccessEdit: "edit",
	AccessFull: "full",
}

// Valid reports whether l is a defined access level
func (l AccessLevel) Valid() bool {
	return l >= AccessNone && l <= AccessFull
}

func (l AccessLevel) String() string {
	if !l.Valid() {
		return "none"
	}
	return accessLevelNames[l]
}

// Allows reports whether l grants at least min
func (l AccessLevel) Allows(min AccessLevel) bool {
	return l.Valid() && l >= min
}

// ParseAccessLevel resolves a level name case-insensitively
func ParseAccessLevel(s string) (AccessLevel, error) {
	for i, name := range accessLevelNames {
		if strings.EqualFold(name, s) {
			return AccessLevel(i), nil
		}
	}
	return AccessNone, fmt.Errorf("invalid access level: %q", s)
}

// MarshalJSON encodes the level as its lower-case name
func (l AccessLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level from its name
func (l *AccessLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAccessLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
