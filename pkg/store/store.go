// Package store defines the persistence contract for per-user content state
// and completion events. Implementations must provide identical semantics
// across backends so the state manager can be pointed at any of them.
package store

// TopLevelSubContentID addresses the aggregate record of a content item
// rather than one of its nested sub-items.
const TopLevelSubContentID = "0"

// User is the already-authenticated principal on whose behalf a call is made.
// Backends may use it for their own authorization decisions.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Record is the persisted representation of one piece of user state.
// (ContentID, UserID, DataType, SubContentID) identifies at most one record.
type Record struct {
	ContentID    string `json:"contentId"`
	UserID       string `json:"userId"`
	DataType     string `json:"dataType"`
	SubContentID string `json:"subContentId"`
	UserState    string `json:"userState"`
	Preload      bool   `json:"preload"`
	Invalidate   bool   `json:"invalidate"`
}

// Key returns the record's identity tuple.
func (r Record) Key() Key {
	return Key{ContentID: r.ContentID, UserID: r.UserID, DataType: r.DataType, SubContentID: r.SubContentID}
}

// Key is the unique coordinate of a Record.
type Key struct {
	ContentID    string
	UserID       string
	DataType     string
	SubContentID string
}

// FinishedRecord captures a user's completed attempt at a content item.
// Timestamps are Unix seconds; CompletionTime is a duration in seconds.
type FinishedRecord struct {
	ContentID         string `json:"contentId"`
	UserID            string `json:"userId"`
	Score             int    `json:"score"`
	MaxScore          int    `json:"maxScore"`
	OpenedTimestamp   int64  `json:"openedTimestamp"`
	FinishedTimestamp int64  `json:"finishedTimestamp"`
	CompletionTime    int64  `json:"completionTime"`
}
