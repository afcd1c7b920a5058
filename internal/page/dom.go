package page

import (
	"strings"
	"sync"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
)

// DOM is a lightweight element tree
type DOM struct {
	root *Element
	head *Element
	body *Element
	mu   sync.RWMutex
}

// Element represents a DOM element
type Element struct {
	TagName     string
	ID          string
	ClassName   string
	TextContent string
	Attributes  script.Attributes
	Children    []*Element
	Parent      *Element

	visible bool
	hovered bool
}

// NewDOM creates a document with head and body
func NewDOM() *DOM {
	d := &DOM{root: &Element{TagName: "html"}}
	d.head = &Element{TagName: "head"}
	d.body = &Element{TagName: "body"}
	d.root.AddElement(d.head)
	d.root.AddElement(d.body)
	return d
}

// NewElement creates a detached element
func NewElement(tag string, attrs script.Attributes) *Element {
	e := &Element{TagName: strings.ToLower(tag), Attributes: attrs.Clone()}
	if v, ok := attrs.Get("id"); ok {
		e.ID = v
	}
	if v, ok := attrs.Get("class"); ok {
		e.ClassName = v
	}
	return e
}

// Head returns the head element
func (d *DOM) Head() *Element { return d.head }

// Body returns the body element
func (d *DOM) Body() *Element { return d.body }

// Append adds child under parent
func (d *DOM) Append(parent, child *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent.AddElement(child)
}

// Detach removes e from the tree
func (d *DOM) Detach(e *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.Remove()
}

// Query finds elements by a simple selector (#id, .class or tag)
func (d *DOM) Query(selector string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Element
	walk(d.root, func(e *Element) {
		if e.Matches(selector) {
			out = append(out, e)
		}
	})
	return out
}

// Matches reports whether e matches a simple selector
func (e *Element) Matches(selector string) bool {
	switch {
	case strings.HasPrefix(selector, "#"):
		return e.ID == selector[1:]
	case strings.HasPrefix(selector, "."):
		for _, c := range strings.Fields(e.ClassName) {
			if c == selector[1:] {
				return true
			}
		}
		return false
	case strings.HasPrefix(selector, "[") && strings.HasSuffix(selector, "]"):
		name, value, hasValue := strings.Cut(selector[1:len(selector)-1], "=")
		v, ok := e.Attributes.Get(name)
		if !hasValue {
			return ok
		}
		return ok && v == strings.Trim(value, `"'`)
	}
	return strings.EqualFold(e.TagName, selector)
}

// GetAttribute retrieves an attribute value
func (e *Element) GetAttribute(name string) string {
	v, _ := e.Attributes.Get(name)
	return v
}

// SetAttribute sets an attribute value
func (e *Element) SetAttribute(name, value string) {
	e.Attributes.Set(name, value)
	switch strings.ToLower(name) {
	case "id":
		e.ID = value
	case "class":
		e.ClassName = value
	}
}

// AddElement adds a child element
func (e *Element) AddElement(child *Element) {
	child.Parent = e
	e.Children = append(e.Children, child)
}

// Remove removes element from parent
func (e *Element) Remove() {
	if e.Parent == nil {
		return
	}
	children := e.Parent.Children[:0]
	for _, child := range e.Parent.Children {
		if child != e {
			children = append(children, child)
		}
	}
	e.Parent.Children = children
	e.Parent = nil
}

// Attached reports whether e is still in the tree
func (d *DOM) Attached(e *Element) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return e.Parent != nil
}

func walk(e *Element, fn func(*Element)) {
	fn(e)
	for _, c := range e.Children {
		walk(c, fn)
	}
}
