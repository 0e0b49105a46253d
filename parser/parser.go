package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-mobiles/models"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidNumber is returned when numeric coercion fails.
	ErrInvalidNumber = errors.New("parser: invalid number")
	// ErrMissingAttribute is returned when a matched element lacks the requested attribute.
	ErrMissingAttribute = errors.New("parser: missing attribute")
)

// Transform selects how a matched element becomes a value.
type Transform string

const (
	// TransformText takes the element's text content.
	TransformText Transform = "text"
	// TransformAttr takes the value of FieldSpec.Attr.
	TransformAttr Transform = "attr"
	// TransformFloat parses the element's text content as a float.
	TransformFloat Transform = "float"
)

// NormalizeText applies NFC normalisation. Whitespace is kept as found.
func NormalizeText(text string) string {
	return norm.NFC.String(text)
}

// ParseNumber converts text to a float. Surrounding whitespace is tolerated,
// anything else that strconv rejects is an error.
func ParseNumber(text string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, text)
	}
	return f, nil
}

// JoinPrefix concatenates prefix and raw without any URL resolution, so
// "https://host/" + "/p/x" keeps its double slash.
func JoinPrefix(prefix, raw string) string {
	return prefix + raw
}

func applyTransform(spec FieldSpec, text string, attr string, hasAttr bool) (models.Value, error) {
	switch spec.Transform {
	case TransformAttr:
		if !hasAttr {
			return models.Value{}, fmt.Errorf("%w: %s on <%s>", ErrMissingAttribute, spec.Attr, spec.Tag)
		}
		return models.TextValue(JoinPrefix(spec.Prefix, attr)), nil
	case TransformFloat:
		f, err := ParseNumber(text)
		if err != nil {
			return models.Value{}, err
		}
		return models.NumberValue(f), nil
	default:
		return models.TextValue(JoinPrefix(spec.Prefix, NormalizeText(text))), nil
	}
}
