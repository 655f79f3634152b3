package logging

import "context"

type contextKey string

const (
	subjectIDKey  contextKey = "subject_id"
	databaseIDKey contextKey = "database_id"
)

// WithSubjectID adds the id of the chat subject being served to the context.
func WithSubjectID(ctx context.Context, subjectID int64) context.Context {
	return context.WithValue(ctx, subjectIDKey, subjectID)
}

// WithDatabaseID adds a tracked database ID to the context.
func WithDatabaseID(ctx context.Context, databaseID string) context.Context {
	return context.WithValue(ctx, databaseIDKey, databaseID)
}

// GetSubjectID retrieves the subject ID from the context.
// Returns 0 if not present.
func GetSubjectID(ctx context.Context) int64 {
	if id, ok := ctx.Value(subjectIDKey).(int64); ok {
		return id
	}
	return 0
}

// GetDatabaseID retrieves the database ID from the context.
// Returns empty string if not present.
func GetDatabaseID(ctx context.Context) string {
	if id, ok := ctx.Value(databaseIDKey).(string); ok {
		return id
	}
	return ""
}
