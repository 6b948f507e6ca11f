// Package store defines the persistence interface for the annotation engine.
//
// Every operation executes inside one transactional scope: it commits or
// rolls back as a unit. Suggestion and link creation tolerate uniqueness
// races silently (a concurrent writer creating the same row counts as
// success); any other storage error aborts the enclosing operation.
package store

import (
	"context"
	"errors"

	"github.com/annotext/annotext/pkg/models"
)

// ErrNotFound reports an unknown document, token, user, or normalization.
// Callers surface it; nothing retries it.
var ErrNotFound = errors.New("not found")

// ErrValidation reports a request rejected before persistence, such as an
// end index smaller than the start index or an empty required field.
var ErrValidation = errors.New("validation failed")

// TokenSeed is one token of a new document as produced by the suggestion
// pipeline, ready for batch insertion.
type TokenSeed struct {
	Position           int
	Text               string
	IsWord             bool
	ToBeNormalized     bool
	TrailingWhitespace string
	Candidates         []string
}

// DocumentListing is one row of the document index for a given user.
type DocumentListing struct {
	ID               uint     `json:"id"`
	Grade            *int16   `json:"grade"`
	NormalizedByUser bool     `json:"normalizedByUser"`
	SourceFileName   string   `json:"sourceFileName"`
	UsersAssigned    []string `json:"usersAssigned"`
}

// TokenDetail is one token in a document detail response.
type TokenDetail struct {
	ID              uint     `json:"id"`
	Text            string   `json:"text"`
	IsWord          bool     `json:"isWord"`
	Position        int      `json:"position"`
	ToBeNormalized  bool     `json:"toBeNormalized"`
	Candidates      []string `json:"candidates"`
	WhitespaceAfter string   `json:"whitespaceAfter"`
	Whitelisted     bool     `json:"whitelisted"`
}

// DocumentDetail is a full document with its tokens and the requesting
// user's assignment state.
type DocumentDetail struct {
	ID               uint          `json:"id"`
	Grade            *int16        `json:"grade"`
	Tokens           []TokenDetail `json:"tokens"`
	NormalizedByUser bool          `json:"normalizedByUser"`
	SourceFileName   string        `json:"sourceFileName"`
	AssignedToUser   bool          `json:"assignedToUser"`
}

// Store is the engine's persistence boundary.
type Store interface {
	// Migrate creates or updates the database schema.
	Migrate(ctx context.Context) error
	Close() error

	// CreateDocument persists a document and its token batch atomically,
	// creating missing Suggestion rows and token links on the way. Candidate
	// links keep the order of each seed's Candidates slice. Tokens whose
	// text is whitelisted are marked whitelisted at insert time; the
	// ToBeNormalized flag is stored as seeded. Returns the new document ID.
	CreateDocument(ctx context.Context, doc *models.Document, seeds []TokenSeed) (uint, error)
	ListDocuments(ctx context.Context, userID uint) ([]DocumentListing, error)
	GetDocument(ctx context.Context, documentID, userID uint) (*DocumentDetail, error)
	// GetDocumentTokens returns a document's tokens in position order,
	// without any overlay applied.
	GetDocumentTokens(ctx context.Context, documentID uint) ([]models.Token, error)

	// EnsureSuggestion returns the Suggestion row for text, creating it if
	// absent. A concurrent create of the same text is not an error; the
	// existing row is fetched instead.
	EnsureSuggestion(ctx context.Context, text string) (*models.Suggestion, error)
	// LinkTokenSuggestion idempotently links a token to a suggestion. Rank
	// orders a token's candidates for presentation, lowest first; an
	// existing link keeps its original rank.
	LinkTokenSuggestion(ctx context.Context, tokenID, suggestionID uint, rank int) error

	// SaveNormalization upserts the overlay row keyed by
	// (document, user, start index). With suggestForAll set it additionally
	// links a Suggestion for the new token text to every token in the corpus
	// sharing the original token's text; re-running that is a no-op.
	SaveNormalization(ctx context.Context, n *models.Normalization, suggestForAll bool) error
	GetNormalizations(ctx context.Context, documentID, userID uint) ([]models.Normalization, error)
	// DeleteNormalization is a no-op if the row is absent.
	DeleteNormalization(ctx context.Context, documentID, userID uint, startIndex int) error
	DeleteAllNormalizations(ctx context.Context, documentID, userID uint) error
	// ToggleNormalized flips the Assignment's normalized flag, creating the
	// row with assigned=false if it does not exist.
	ToggleNormalized(ctx context.Context, documentID, userID uint) error
	// ToggleToBeNormalized flips the token's global flag for all reviewers.
	ToggleToBeNormalized(ctx context.Context, tokenID uint) error

	GetWhitelist(ctx context.Context) ([]string, error)
	// AddWhitelistToken is idempotent; it sets the whitelisted flag on every
	// token sharing the text and leaves ToBeNormalized untouched.
	AddWhitelistToken(ctx context.Context, text string) error
	// RemoveWhitelistToken reverts AddWhitelistToken.
	RemoveWhitelistToken(ctx context.Context, text string) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UsernameByID(ctx context.Context, userID uint) (string, error)
	// UserIDsByUsernames resolves usernames in first-seen order, dropping
	// unknown names and duplicates.
	UserIDsByUsernames(ctx context.Context, usernames []string) ([]uint, error)

	// BulkAssignDocuments distributes the documents round-robin over the
	// users and upserts the Assignment rows in one transaction, setting
	// assigned=true and leaving normalized untouched. Returns the per-user
	// counts.
	BulkAssignDocuments(ctx context.Context, documentIDs, userIDs []uint) (map[uint]int, error)
}
