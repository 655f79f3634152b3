// Package page models the pages of a tracked database and the typed
// content carried by their properties.
package page

import (
	"encoding/json"
	"time"
)

// UnnamedPage is shown when a page has no usable title.
const UnnamedPage = "Unnamed page"

// PropertyType is the declared kind of a property.
type PropertyType string

// Property types understood by the differ. Anything else decodes to
// UnsupportedContent.
const (
	TypeTitle  PropertyType = "title"
	TypeStatus PropertyType = "status"
	TypeSelect PropertyType = "select"
	TypeDate   PropertyType = "date"
	TypePeople PropertyType = "people"
	TypeURL    PropertyType = "url"
)

// Supported reports whether values of this type can be rendered.
func (t PropertyType) Supported() bool {
	switch t {
	case TypeTitle, TypeStatus, TypeSelect, TypeDate, TypePeople, TypeURL:
		return true
	default:
		return false
	}
}

// Property is a named, typed field of a page. Raw holds the type-specific
// payload exactly as received; decode it with Content.
type Property struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Type PropertyType    `json:"type"`
	Raw  json.RawMessage `json:"value"`
}

// Content decodes the raw payload into its typed variant.
func (p Property) Content() (Content, error) {
	return DecodeContent(p.Type, p.Raw)
}

// Page is one row of a database listing.
type Page struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Archived   bool       `json:"archived,omitempty"`
	Properties []Property `json:"properties"`
}

// Property looks a property up by its display name.
func (p Page) Property(name string) (Property, bool) {
	for _, prop := range p.Properties {
		if prop.Name == name {
			return prop, true
		}
	}
	return Property{}, false
}

// Name is the plain text of the title property, or UnnamedPage.
func (p Page) Name() string {
	for _, prop := range p.Properties {
		if prop.Type != TypeTitle {
			continue
		}
		c, err := prop.Content()
		if err != nil {
			return UnnamedPage
		}
		if title, ok := c.(TitleContent); ok && title.PlainText() != "" {
			return title.PlainText()
		}
		return UnnamedPage
	}
	return UnnamedPage
}

// Snapshot is the full listing of one database at a point in time.
type Snapshot struct {
	DatabaseID string    `json:"database_id"`
	TakenAt    time.Time `json:"taken_at"`
	Pages      []Page    `json:"pages"`
}
