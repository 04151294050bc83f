package store

import "context"

// Backend is the capability the state manager persists through.
// Implementations own upsert semantics per Record key and must make each
// upsert and delete atomic for that key.
type Backend interface {
	// LoadUserData returns the record at the exact key; ok is false when none exists.
	LoadUserData(ctx context.Context, contentID, dataType, subContentID string, user User) (rec Record, ok bool, err error)
	// SaveUserData upserts rec at rec.Key(), replacing state and preload flag.
	SaveUserData(ctx context.Context, rec Record, user User) error
	// DeleteUserDataByUser removes every record of userID for contentID.
	DeleteUserDataByUser(ctx context.Context, contentID, userID string, requestingUser User) error
	// DeleteAllUserDataForContent removes every record for contentID across all users.
	DeleteAllUserDataForContent(ctx context.Context, contentID string, requestingUser User) error
	// ListRecordsForContent returns all records of userID for contentID in no particular order.
	ListRecordsForContent(ctx context.Context, contentID, userID string) ([]Record, error)
	// RecordCompletion upserts the completion event for (ContentID, UserID).
	RecordCompletion(ctx context.Context, rec FinishedRecord, user User) error
}

// CompletionLister is implemented by backends that can report completions.
type CompletionLister interface {
	ListCompletions(ctx context.Context, contentID string) ([]FinishedRecord, error)
}

// Migrator is implemented by backends that manage their own schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}
