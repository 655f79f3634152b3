// Package source defines the remote page store the bot reads from.
package source

import (
	"context"
	"errors"

	"github.com/hay-kot/pagewatch/internal/core/page"
)

var (
	// ErrAuth means the credential was revoked or is invalid.
	ErrAuth = errors.New("page source: unauthorized")
	// ErrNotFound means the database is gone or no longer shared.
	ErrNotFound = errors.New("page source: not found")
	// ErrTransient covers timeouts, rate limits and server errors.
	ErrTransient = errors.New("page source: temporarily unavailable")
)

// Database is a database visible to a credential.
type Database struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Field is one column of a database schema.
type Field struct {
	Name string            `json:"name"`
	Type page.PropertyType `json:"type"`
}

// Schema lists the fields of a database in their declared order.
type Schema []Field

// Type returns the type of the named field.
func (s Schema) Type(name string) (page.PropertyType, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// Supported returns the fields whose values can be rendered.
func (s Schema) Supported() Schema {
	out := make(Schema, 0, len(s))
	for _, f := range s {
		if f.Type.Supported() {
			out = append(out, f)
		}
	}
	return out
}

// Source reads databases and pages on behalf of a credential.
type Source interface {
	ListDatabases(ctx context.Context, credential string) ([]Database, error)
	FetchListing(ctx context.Context, credential, databaseID string) (page.Snapshot, error)
	FetchSchema(ctx context.Context, credential, databaseID string) (Schema, error)
}
