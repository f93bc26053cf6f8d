package pki

import (
	"encoding/json"
	"strings"
)

// Optional is a string attribute that may be absent from a certificate.
// Absent and empty are the same thing: a blank value is never present.
type Optional struct {
	value string
	set   bool
}

// Some returns a present Optional, or None when v is blank.
func Some(v string) Optional {
	v = strings.TrimSpace(v)
	if v == "" {
		return None()
	}
	return Optional{value: v, set: true}
}

// None returns an absent Optional.
func None() Optional {
	return Optional{}
}

// FromPtr converts a nullable database column.
func FromPtr(p *string) Optional {
	if p == nil {
		return None()
	}
	return Some(*p)
}

func (o Optional) Present() bool {
	return o.set
}

// Get returns the value and whether it is present.
func (o Optional) Get() (string, bool) {
	return o.value, o.set
}

// OrElse returns the value, or fallback when absent.
func (o Optional) OrElse(fallback string) string {
	if !o.set {
		return fallback
	}
	return o.value
}

// Ptr returns nil when absent.
func (o Optional) Ptr() *string {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

func (o Optional) String() string {
	return o.OrElse("")
}

// MarshalJSON encodes an absent value as null.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	var p *string
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = FromPtr(p)
	return nil
}

// MarshalYAML encodes an absent value as null.
func (o Optional) MarshalYAML() (any, error) {
	if !o.set {
		return nil, nil
	}
	return o.value, nil
}
