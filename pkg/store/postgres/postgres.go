// Package postgres implements the [store.Store] interface on PostgreSQL
// using GORM.
//
// Uniqueness races between concurrent writers are absorbed with atomic
// insert-or-ignore statements (INSERT ... ON CONFLICT DO NOTHING) followed by
// a re-fetch, so a conflicting concurrent insert is treated as
// success-via-concurrent-writer rather than as an error. Every Store
// operation that touches more than one row runs inside a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/annotext/annotext/pkg/assign"
	"github.com/annotext/annotext/pkg/models"
	"github.com/annotext/annotext/pkg/store"
)

// PostgresStore implements store.Store backed by PostgreSQL.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewFromDB wraps an existing GORM handle. Used by tests.
func NewFromDB(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates missing tables, indexes, and constraints. Safe to run
// repeatedly; it only adds schema elements.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.SetupJoinTable(&models.Token{}, "Suggestions", &models.TokenSuggestion{}); err != nil {
		return err
	}
	return db.AutoMigrate(
		&models.User{},
		&models.Document{},
		&models.Token{},
		&models.Suggestion{},
		&models.Normalization{},
		&models.Assignment{},
		&models.WhitelistEntry{},
	)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Document operations

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document, seeds []store.TokenSeed) (uint, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("create document: %w", err)
		}

		whitelisted, err := whitelistSet(tx)
		if err != nil {
			return err
		}

		for _, seed := range seeds {
			token := models.Token{
				DocumentID:         doc.ID,
				Position:           seed.Position,
				Text:               seed.Text,
				IsWord:             seed.IsWord,
				ToBeNormalized:     seed.ToBeNormalized,
				TrailingWhitespace: seed.TrailingWhitespace,
			}
			if _, ok := whitelisted[seed.Text]; ok {
				token.Whitelisted = true
			}
			if err := tx.Create(&token).Error; err != nil {
				return fmt.Errorf("create token %d: %w", seed.Position, err)
			}

			for rank, candidate := range uniqueStrings(seed.Candidates) {
				suggestion, err := ensureSuggestion(tx, candidate)
				if err != nil {
					return err
				}
				if err := linkTokenSuggestion(tx, token.ID, suggestion.ID, rank); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, userID uint) ([]store.DocumentListing, error) {
	db := s.db.WithContext(ctx)

	var docs []models.Document
	if err := db.Order("id").Find(&docs).Error; err != nil {
		return nil, err
	}

	type assignedRow struct {
		DocumentID uint
		Username   string
	}
	var assignedRows []assignedRow
	err := db.Model(&models.Assignment{}).
		Select("assignments.document_id, users.username").
		Joins("JOIN users ON users.id = assignments.user_id").
		Where("assignments.assigned = ?", true).
		Order("assignments.user_id").
		Scan(&assignedRows).Error
	if err != nil {
		return nil, err
	}
	assignedBy := make(map[uint][]string)
	for _, row := range assignedRows {
		assignedBy[row.DocumentID] = append(assignedBy[row.DocumentID], row.Username)
	}

	var mine []models.Assignment
	if err := db.Where("user_id = ?", userID).Find(&mine).Error; err != nil {
		return nil, err
	}
	normalizedBy := make(map[uint]bool, len(mine))
	for _, a := range mine {
		normalizedBy[a.DocumentID] = a.Normalized
	}

	listings := make([]store.DocumentListing, 0, len(docs))
	for _, doc := range docs {
		users := assignedBy[doc.ID]
		if users == nil {
			users = []string{}
		}
		listings = append(listings, store.DocumentListing{
			ID:               doc.ID,
			Grade:            doc.Grade,
			NormalizedByUser: normalizedBy[doc.ID],
			SourceFileName:   doc.SourceFileName,
			UsersAssigned:    users,
		})
	}
	return listings, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID, userID uint) (*store.DocumentDetail, error) {
	db := s.db.WithContext(ctx)

	var doc models.Document
	err := db.
		Preload("Tokens", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&doc, "id = ?", documentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	candidatesByToken, err := documentCandidates(db, documentID)
	if err != nil {
		return nil, err
	}

	var assignment models.Assignment
	assigned, normalized := false, false
	err = db.Where("document_id = ? AND user_id = ?", documentID, userID).First(&assignment).Error
	switch {
	case err == nil:
		assigned, normalized = assignment.Assigned, assignment.Normalized
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	detail := &store.DocumentDetail{
		ID:               doc.ID,
		Grade:            doc.Grade,
		NormalizedByUser: normalized,
		SourceFileName:   doc.SourceFileName,
		AssignedToUser:   assigned,
	}
	for _, token := range doc.Tokens {
		candidates := candidatesByToken[token.ID]
		if candidates == nil {
			candidates = []string{}
		}
		detail.Tokens = append(detail.Tokens, store.TokenDetail{
			ID:              token.ID,
			Text:            token.Text,
			IsWord:          token.IsWord,
			Position:        token.Position,
			ToBeNormalized:  token.ToBeNormalized,
			Candidates:      candidates,
			WhitespaceAfter: token.TrailingWhitespace,
			Whitelisted:     token.Whitelisted,
		})
	}
	return detail, nil
}

// documentCandidates loads the suggestion texts for every token of a
// document, keyed by token ID and ordered by the rank recorded when the
// link was made.
func documentCandidates(db *gorm.DB, documentID uint) (map[uint][]string, error) {
	type candidateRow struct {
		TokenID uint
		Text    string
	}
	var rows []candidateRow
	err := db.Table("token_suggestions").
		Select("token_suggestions.token_id AS token_id, suggestions.token_text AS text").
		Joins("JOIN suggestions ON suggestions.id = token_suggestions.suggestion_id").
		Joins("JOIN tokens ON tokens.id = token_suggestions.token_id").
		Where("tokens.document_id = ?", documentID).
		Order("token_suggestions.token_id, token_suggestions.rank, token_suggestions.suggestion_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load candidates for document %d: %w", documentID, err)
	}

	candidates := make(map[uint][]string, len(rows))
	for _, row := range rows {
		candidates[row.TokenID] = append(candidates[row.TokenID], row.Text)
	}
	return candidates, nil
}

func (s *PostgresStore) GetDocumentTokens(ctx context.Context, documentID uint) ([]models.Token, error) {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.Document{}).Where("id = ?", documentID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, store.ErrNotFound
	}

	var tokens []models.Token
	err := db.Where("document_id = ?", documentID).Order("position").Find(&tokens).Error
	return tokens, err
}

// Suggestion operations

func (s *PostgresStore) EnsureSuggestion(ctx context.Context, text string) (*models.Suggestion, error) {
	return ensureSuggestion(s.db.WithContext(ctx), text)
}

func (s *PostgresStore) LinkTokenSuggestion(ctx context.Context, tokenID, suggestionID uint, rank int) error {
	return linkTokenSuggestion(s.db.WithContext(ctx), tokenID, suggestionID, rank)
}

// ensureSuggestion looks up the suggestion by text and, if absent, inserts it
// with conflict-ignore so a concurrent writer creating the same text wins
// harmlessly; the row is re-fetched in that case.
func ensureSuggestion(db *gorm.DB, text string) (*models.Suggestion, error) {
	var suggestion models.Suggestion
	err := db.Where("token_text = ?", text).First(&suggestion).Error
	if err == nil {
		return &suggestion, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	suggestion = models.Suggestion{Text: text}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_text"}},
		DoNothing: true,
	}).Create(&suggestion)
	if res.Error != nil {
		return nil, fmt.Errorf("create suggestion %q: %w", text, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race; the concurrent writer's row is the one we want.
		if err := db.Where("token_text = ?", text).First(&suggestion).Error; err != nil {
			return nil, fmt.Errorf("refetch suggestion %q: %w", text, err)
		}
	}
	return &suggestion, nil
}

// linkTokenSuggestion records the link with its rank. An existing link keeps
// its original rank; conflict-ignore makes re-linking a no-op.
func linkTokenSuggestion(db *gorm.DB, tokenID, suggestionID uint, rank int) error {
	link := models.TokenSuggestion{TokenID: tokenID, SuggestionID: suggestionID, Rank: rank}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return fmt.Errorf("link token %d to suggestion %d: %w", tokenID, suggestionID, err)
	}
	return nil
}

// Normalization operations

func (s *PostgresStore) SaveNormalization(ctx context.Context, n *models.Normalization, suggestForAll bool) error {
	if n.EndIndex < n.StartIndex {
		return fmt.Errorf("%w: end index %d before start index %d", store.ErrValidation, n.EndIndex, n.StartIndex)
	}
	if n.NewToken == "" {
		return fmt.Errorf("%w: new token must not be empty", store.ErrValidation)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "document_id"}, {Name: "user_id"}, {Name: "start_index"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"end_index", "new_token", "updated_at"}),
		}).Create(n).Error
		if err != nil {
			return fmt.Errorf("save normalization: %w", err)
		}

		if !suggestForAll {
			return nil
		}
		return suggestForAllOccurrences(tx, n)
	})
}

// supplementalRank sorts suggest-for-all links after every candidate the
// suggestion pipeline ranked at document creation.
const supplementalRank = 100

// suggestForAllOccurrences links a suggestion for the normalization's new
// token to every token in the corpus whose text matches the original token
// under the span's first position. Idempotent: re-running changes nothing.
func suggestForAllOccurrences(tx *gorm.DB, n *models.Normalization) error {
	var original models.Token
	err := tx.Where("document_id = ? AND position = ?", n.DocumentID, n.StartIndex).First(&original).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		return err
	}

	suggestion, err := ensureSuggestion(tx, n.NewToken)
	if err != nil {
		return err
	}

	var tokenIDs []uint
	err = tx.Model(&models.Token{}).Where("token_text = ?", original.Text).Pluck("id", &tokenIDs).Error
	if err != nil {
		return err
	}

	links := make([]models.TokenSuggestion, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		links = append(links, models.TokenSuggestion{
			TokenID:      id,
			SuggestionID: suggestion.ID,
			Rank:         supplementalRank,
		})
	}
	if len(links) == 0 {
		return nil
	}
	err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	if err != nil {
		return fmt.Errorf("bulk link suggestion %d: %w", suggestion.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetNormalizations(ctx context.Context, documentID, userID uint) ([]models.Normalization, error) {
	var norms []models.Normalization
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Order("start_index").
		Find(&norms).Error
	return norms, err
}

func (s *PostgresStore) DeleteNormalization(ctx context.Context, documentID, userID uint, startIndex int) error {
	return s.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ? AND start_index = ?", documentID, userID, startIndex).
		Delete(&models.Normalization{}).Error
}

func (s *PostgresStore) DeleteAllNormalizations(ctx context.Context, documentID, userID uint) error {
	return s.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Delete(&models.Normalization{}).Error
}

func (s *PostgresStore) ToggleNormalized(ctx context.Context, documentID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assignment models.Assignment
		err := tx.Where("document_id = ? AND user_id = ?", documentID, userID).First(&assignment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			assignment = models.Assignment{
				DocumentID: documentID,
				UserID:     userID,
				Assigned:   false,
				Normalized: true,
			}
			return tx.Create(&assignment).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&assignment).
			Where("document_id = ? AND user_id = ?", documentID, userID).
			Update("normalized", !assignment.Normalized).Error
	})
}

func (s *PostgresStore) ToggleToBeNormalized(ctx context.Context, tokenID uint) error {
	res := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ?", tokenID).
		Update("to_be_normalized", gorm.Expr("NOT to_be_normalized"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Whitelist operations

func (s *PostgresStore) GetWhitelist(ctx context.Context) ([]string, error) {
	var texts []string
	err := s.db.WithContext(ctx).Model(&models.WhitelistEntry{}).
		Order("token_text").
		Pluck("token_text", &texts).Error
	return texts, err
}

func (s *PostgresStore) AddWhitelistToken(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("%w: token text must not be empty", store.ErrValidation)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := models.WhitelistEntry{Text: text}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_text"}},
			DoNothing: true,
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("add whitelist entry %q: %w", text, err)
		}
		// Only the whitelisted flag moves. ToBeNormalized keeps the
		// pipeline's verdict so removing the entry restores the exact
		// prior state.
		return tx.Model(&models.Token{}).
			Where("token_text = ?", text).
			Update("whitelisted", true).Error
	})
}

func (s *PostgresStore) RemoveWhitelistToken(ctx context.Context, text string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("token_text = ?", text).Delete(&models.WhitelistEntry{}).Error
		if err != nil {
			return fmt.Errorf("remove whitelist entry %q: %w", text, err)
		}
		return tx.Model(&models.Token{}).
			Where("token_text = ?", text).
			Update("whitelisted", false).Error
	})
}

// User operations

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *PostgresStore) UsernameByID(ctx context.Context, userID uint) (string, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return user.Username, nil
}

func (s *PostgresStore) UserIDsByUsernames(ctx context.Context, usernames []string) ([]uint, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	var users []models.User
	err := s.db.WithContext(ctx).Where("username IN ?", usernames).Find(&users).Error
	if err != nil {
		return nil, err
	}
	byName := make(map[string]uint, len(users))
	for _, u := range users {
		byName[u.Username] = u.ID
	}

	seen := make(map[uint]struct{})
	var ids []uint
	for _, name := range usernames {
		id, ok := byName[name]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Assignment operations

func (s *PostgresStore) BulkAssignDocuments(ctx context.Context, documentIDs, userIDs []uint) (map[uint]int, error) {
	plan := assign.Distribute(documentIDs, userIDs)
	if plan.Empty() {
		return plan.Counts, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pair := range plan.Pairs {
			assignment := models.Assignment{
				DocumentID: pair.DocumentID,
				UserID:     pair.UserID,
				Assigned:   true,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
				DoUpdates: clause.Assignments(map[string]any{"assigned": true}),
			}).Create(&assignment).Error
			if err != nil {
				return fmt.Errorf("assign document %d to user %d: %w", pair.DocumentID, pair.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan.Counts, nil
}

// Helpers

func whitelistSet(db *gorm.DB) (map[string]struct{}, error) {
	var texts []string
	if err := db.Model(&models.WhitelistEntry{}).Pluck("token_text", &texts).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(texts))
	for _, t := range texts {
		set[t] = struct{}{}
	}
	return set, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
