package models

import (
	"time"
)

// User is a reviewer account. Authentication is out of scope; the username is
// only used to resolve assignment requests and to key per-user overlays.
type User struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Username  string     `gorm:"size:30;uniqueIndex;not null" json:"username"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Document is one ingested text. It owns an ordered, dense set of Tokens
// (positions 0..N-1). Grade and source file name come from the upload.
type Document struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Grade          *int16    `json:"grade,omitempty"`
	SourceFileName string    `gorm:"size:255;not null" json:"source_file_name"`
	Tokens         []Token   `gorm:"constraint:OnDelete:CASCADE" json:"tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Token is one unit of a document's text. Position is zero-based and unique
// within the document.
//
// ToBeNormalized and Whitelisted are shared, global flags: toggling either
// one changes what every reviewer sees. They are mutated only through the
// dedicated store operations, never through per-user state. The two flags
// are independent; whitelist changes never touch ToBeNormalized, so removing
// an entry restores exactly the state from before it was added.
type Token struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	DocumentID     uint   `gorm:"not null;uniqueIndex:idx_tokens_doc_position" json:"document_id"`
	Position       int    `gorm:"not null;uniqueIndex:idx_tokens_doc_position" json:"position"`
	Text           string `gorm:"column:token_text;size:128;not null;index" json:"text"`
	IsWord         bool   `gorm:"not null" json:"is_word"`
	ToBeNormalized bool   `gorm:"not null;default:false" json:"to_be_normalized"`
	Whitelisted    bool   `gorm:"not null;default:false" json:"whitelisted"`
	// TrailingWhitespace is the literal separator that followed the token in
	// the source text. Kept verbatim so ingestion is lossless.
	TrailingWhitespace string `gorm:"size:8;not null;default:''" json:"trailing_whitespace"`

	Suggestions []Suggestion `gorm:"many2many:token_suggestions" json:"suggestions,omitempty"`
}

// Suggestion is a candidate replacement string, content-addressed by its
// text. Rows are created lazily and shared by every token and document that
// links to them; they are never deleted in normal operation.
type Suggestion struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Text string `gorm:"column:token_text;size:128;uniqueIndex;not null" json:"text"`
}

// TokenSuggestion is the many-to-many join between tokens and suggestions.
// The composite primary key makes link inserts idempotent at the database
// level; concurrent duplicate inserts surface as unique-constraint conflicts
// that the store absorbs. Rank preserves the order the suggestion pipeline
// produced the candidates in; lower ranks are presented first.
type TokenSuggestion struct {
	TokenID      uint `gorm:"primaryKey"`
	SuggestionID uint `gorm:"primaryKey"`
	Rank         int  `gorm:"not null;default:0"`
}

// Normalization is a per-user, range-addressed replacement overlay: "replace
// tokens [StartIndex..EndIndex] with NewToken, for this user only". At most
// one row exists per (document, user, start index); saving again at the same
// key updates EndIndex/NewToken in place.
type Normalization struct {
	DocumentID uint      `gorm:"primaryKey;autoIncrement:false" json:"document_id"`
	UserID     uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	StartIndex int       `gorm:"primaryKey;autoIncrement:false" json:"start_index"`
	EndIndex   int       `gorm:"not null" json:"end_index"`
	NewToken   string    `gorm:"size:64;not null" json:"new_token"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Document *Document `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	User     *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Assignment records that a document is designated to a user. Assigned and
// Normalized are independent booleans: the distributor sets Assigned, the
// reviewer toggles Normalized when done. A row appears on first assignment or
// first normalized-status toggle and is only removed by cascading deletes.
type Assignment struct {
	DocumentID uint `gorm:"primaryKey;autoIncrement:false" json:"document_id"`
	UserID     uint `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Assigned   bool `gorm:"not null;default:false" json:"assigned"`
	Normalized bool `gorm:"not null;default:false" json:"normalized"`

	Document *Document `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	User     *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// WhitelistEntry marks a spelling as always acceptable. Adding or removing an
// entry flips the Whitelisted flag on every existing token with the same
// text, across all documents.
type WhitelistEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Text      string    `gorm:"column:token_text;size:128;uniqueIndex;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
