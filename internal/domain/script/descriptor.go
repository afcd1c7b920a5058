package script

import (
	"strings"
)

// Attribute is a single script tag attribute. An empty value renders as a
// boolean attribute.
type Attribute struct {
	Name  string `json:"name" yaml:"name" toml:"name"`
	Value string `json:"value" yaml:"value" toml:"value"`
}

// Attributes keeps attributes in insertion order
type Attributes struct {
	items []Attribute
}

// NewAttributes builds ordered attributes from name/value pairs
func NewAttributes(pairs ...Attribute) Attributes {
	var a Attributes
	for _, p := range pairs {
		a.Set(p.Name, p.Value)
	}
	return a
}

// Set replaces an existing attribute in place or appends a new one
func (a *Attributes) Set(name, value string) {
	name = strings.ToLower(name)
	for i := range a.items {
		if a.items[i].Name == name {
			a.items[i].Value = value
			return
		}
	}
	a.items = append(a.items, Attribute{Name: name, Value: value})
}

// Get returns the attribute value
func (a Attributes) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, it := range a.items {
		if it.Name == name {
			return it.Value, true
		}
	}
	return "", false
}

// Delete removes an attribute
func (a *Attributes) Delete(name string) {
	name = strings.ToLower(name)
	for i := range a.items {
		if a.items[i].Name == name {
			a.items = append(a.items[:i], a.items[i+1:]...)
			return
		}
	}
}

// Len returns the number of attributes
func (a Attributes) Len() int {
	return len(a.items)
}

// List returns a copy of the attributes in order
func (a Attributes) List() []Attribute {
	out := make([]Attribute, len(a.items))
	copy(out, a.items)
	return out
}

// Clone returns an independent copy
func (a Attributes) Clone() Attributes {
	return Attributes{items: a.List()}
}

// Descriptor describes a script to inject
type Descriptor struct {
	Key        string
	Src        string
	Body       string
	Integrity  string
	Attributes Attributes
}

// Clone returns a deep copy
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Attributes = d.Attributes.Clone()
	return &c
}

// Inline reports whether the script carries its body instead of a src
func (d *Descriptor) Inline() bool {
	return d.Src == "" && d.Body != ""
}

// Validate checks the descriptor is injectable
func (d *Descriptor) Validate() error {
	var fields []FieldError
	if strings.TrimSpace(d.Key) == "" {
		fields = append(fields, FieldError{Field: "key", Tag: "required", Message: "key is required"})
	}
	if d.Src == "" && d.Body == "" {
		fields = append(fields, FieldError{Field: "src", Tag: "required_without", Param: "body", Message: "src or body is required"})
	}
	if len(fields) > 0 {
		return &ValidationError{Subject: d.Key, Fields: fields}
	}
	return nil
}
