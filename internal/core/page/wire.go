package page

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// SnapshotStore persists the last listing seen for each database.
type SnapshotStore interface {
	// GetSnapshot returns false when no baseline exists yet.
	GetSnapshot(ctx context.Context, databaseID string) (Snapshot, bool, error)
	SetSnapshot(ctx context.Context, snap Snapshot) error
}

type wirePage struct {
	Object     string          `json:"object"`
	ID         string          `json:"id"`
	URL        string          `json:"url"`
	Archived   bool            `json:"archived"`
	InTrash    bool            `json:"in_trash"`
	Properties json.RawMessage `json:"properties"`
}

type wireProperty struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// DecodeNotionPage converts a page object from the Notion API into a Page.
// Property order follows the order of keys in the payload.
func DecodeNotionPage(raw json.RawMessage) (Page, error) {
	var wp wirePage
	if err := json.Unmarshal(raw, &wp); err != nil {
		return Page{}, fmt.Errorf("%w: page: %w", ErrMalformed, err)
	}
	if wp.ID == "" {
		return Page{}, fmt.Errorf("%w: page without id", ErrMalformed)
	}

	props, err := DecodeNotionProperties(wp.Properties, true)
	if err != nil {
		return Page{}, fmt.Errorf("page %s: %w", wp.ID, err)
	}

	return Page{
		ID:         wp.ID,
		URL:        wp.URL,
		Archived:   wp.Archived || wp.InTrash,
		Properties: props,
	}, nil
}

// DecodeNotionProperties walks a Notion "properties" object in key order.
// With values set, each property's type-keyed payload is captured in Raw;
// otherwise only id, name and type are kept (database schemas).
func DecodeNotionProperties(raw json.RawMessage, values bool) ([]Property, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: properties: %w", ErrMalformed, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: properties is not an object", ErrMalformed)
	}

	var props []Property
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: properties: %w", ErrMalformed, err)
		}
		name, _ := keyTok.(string)

		var body json.RawMessage
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("%w: property %q: %w", ErrMalformed, name, err)
		}

		var wp wireProperty
		if err := json.Unmarshal(body, &wp); err != nil {
			return nil, fmt.Errorf("%w: property %q: %w", ErrMalformed, name, err)
		}

		prop := Property{ID: wp.ID, Name: name, Type: PropertyType(wp.Type)}
		if values {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("%w: property %q: %w", ErrMalformed, name, err)
			}
			prop.Raw = fields[wp.Type]
			if prop.Raw == nil {
				prop.Raw = json.RawMessage("null")
			}
		}
		props = append(props, prop)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: properties: %w", ErrMalformed, err)
	}

	return props, nil
}

// RawEqual compares two payloads as JSON values, ignoring formatting and
// key order. A nil payload equals JSON null.
func RawEqual(a, b json.RawMessage) bool {
	a, b = orNull(a), orNull(b)
	if bytes.Equal(a, b) {
		return true
	}

	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) == nil && json.Compact(&cb, b) == nil && bytes.Equal(ca.Bytes(), cb.Bytes()) {
		return true
	}

	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
