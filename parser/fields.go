package parser

import (
	"fmt"
	"strings"
)

// ProductClass is the class every default field selects on.
const ProductClass = "_KzDlHZ"

// DefaultLimit caps how many matches a field keeps.
const DefaultLimit = 5

// FieldSpec declares one extracted column.
type FieldSpec struct {
	Name      string
	Tag       string
	Class     string
	Attr      string
	Prefix    string
	Transform Transform
	Limit     int
}

// Selector returns the CSS selector for the spec, e.g. "div._KzDlHZ".
func (f FieldSpec) Selector() string {
	if f.Class == "" {
		return f.Tag
	}
	classes := strings.Fields(f.Class)
	return f.Tag + "." + strings.Join(classes, ".")
}

// Validate checks a single spec in isolation.
func (f FieldSpec) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	if strings.TrimSpace(f.Tag) == "" {
		return fmt.Errorf("field %s: tag cannot be empty", f.Name)
	}
	if f.Limit <= 0 {
		return fmt.Errorf("field %s: limit must be positive", f.Name)
	}
	switch f.Transform {
	case TransformText, TransformFloat:
	case TransformAttr:
		if f.Attr == "" {
			return fmt.Errorf("field %s: attr transform needs an attribute", f.Name)
		}
	default:
		return fmt.Errorf("field %s: unknown transform %q", f.Name, f.Transform)
	}
	return nil
}

// DefaultFields returns the seven product columns. Every field shares
// ProductClass; only the tag differs.
func DefaultFields(linkPrefix string, limit int) []FieldSpec {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return []FieldSpec{
		{Name: "names", Tag: "div", Class: ProductClass, Transform: TransformText, Limit: limit},
		{Name: "prices", Tag: "div", Class: ProductClass, Transform: TransformText, Limit: limit},
		{Name: "ratings", Tag: "div", Class: ProductClass, Transform: TransformFloat, Limit: limit},
		{Name: "reviews", Tag: "li", Class: ProductClass, Transform: TransformText, Limit: limit},
		{Name: "features", Tag: "li", Class: ProductClass, Transform: TransformText, Limit: limit},
		{Name: "links", Tag: "a", Class: ProductClass, Attr: "href", Prefix: linkPrefix, Transform: TransformAttr, Limit: limit},
		{Name: "images", Tag: "img", Class: ProductClass, Attr: "src", Transform: TransformAttr, Limit: limit},
	}
}
