package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook extracts subject_id and database_id from context and adds them to log events.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == context.Background() || ctx == nil {
		return
	}

	if subjectID := GetSubjectID(ctx); subjectID != 0 {
		e.Int64("subject_id", subjectID)
	}

	if databaseID := GetDatabaseID(ctx); databaseID != "" {
		e.Str("database_id", databaseID)
	}
}
