package page

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a payload does not match its declared type.
var ErrMalformed = errors.New("malformed property value")

// Content is the decoded value of a property. The concrete type is one of
// the *Content types in this package.
type Content interface {
	Kind() PropertyType
	isContent()
}

// RichText is a single span of formatted text.
type RichText struct {
	PlainText string `json:"plain_text"`
}

// Option is a choice of a status or select property.
type Option struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// DateRange is a date property value. End and TimeZone may be absent.
type DateRange struct {
	Start    string  `json:"start"`
	End      *string `json:"end"`
	TimeZone *string `json:"time_zone"`
}

// Person is a user referenced by a people property.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TitleContent struct{ Spans []RichText }

// PlainText returns the text of the first span.
func (c TitleContent) PlainText() string {
	if len(c.Spans) == 0 {
		return ""
	}
	return c.Spans[0].PlainText
}

type StatusContent struct{ Option *Option }

type SelectContent struct{ Option *Option }

type DateContent struct{ Range *DateRange }

type PeopleContent struct{ People []Person }

type URLContent struct{ URL *string }

// UnsupportedContent carries values of types that are not rendered.
type UnsupportedContent struct {
	Type PropertyType
	Raw  json.RawMessage
}

func (TitleContent) Kind() PropertyType         { return TypeTitle }
func (StatusContent) Kind() PropertyType        { return TypeStatus }
func (SelectContent) Kind() PropertyType        { return TypeSelect }
func (DateContent) Kind() PropertyType          { return TypeDate }
func (PeopleContent) Kind() PropertyType        { return TypePeople }
func (URLContent) Kind() PropertyType           { return TypeURL }
func (c UnsupportedContent) Kind() PropertyType { return c.Type }

func (TitleContent) isContent()       {}
func (StatusContent) isContent()      {}
func (SelectContent) isContent()      {}
func (DateContent) isContent()        {}
func (PeopleContent) isContent()      {}
func (URLContent) isContent()         {}
func (UnsupportedContent) isContent() {}

// OptionName returns the option name, or "" for an empty choice.
func OptionName(o *Option) string {
	if o == nil {
		return ""
	}
	return o.Name
}

// DecodeContent decodes raw according to t. A payload whose shape does not
// match t yields an error wrapping ErrMalformed.
func DecodeContent(t PropertyType, raw json.RawMessage) (Content, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	switch t {
	case TypeTitle:
		var spans []RichText
		if err := decode(t, raw, &spans); err != nil {
			return nil, err
		}
		return TitleContent{Spans: spans}, nil
	case TypeStatus:
		var opt *Option
		if err := decode(t, raw, &opt); err != nil {
			return nil, err
		}
		return StatusContent{Option: opt}, nil
	case TypeSelect:
		var opt *Option
		if err := decode(t, raw, &opt); err != nil {
			return nil, err
		}
		return SelectContent{Option: opt}, nil
	case TypeDate:
		var dr *DateRange
		if err := decode(t, raw, &dr); err != nil {
			return nil, err
		}
		return DateContent{Range: dr}, nil
	case TypePeople:
		var people []Person
		if err := decode(t, raw, &people); err != nil {
			return nil, err
		}
		return PeopleContent{People: people}, nil
	case TypeURL:
		var u *string
		if err := decode(t, raw, &u); err != nil {
			return nil, err
		}
		return URLContent{URL: u}, nil
	default:
		return UnsupportedContent{Type: t, Raw: raw}, nil
	}
}

func decode(t PropertyType, raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, t, err)
	}
	return nil
}
