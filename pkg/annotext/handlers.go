package annotext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/annotext/annotext/pkg/ingest"
	"github.com/annotext/annotext/pkg/models"
	"github.com/annotext/annotext/pkg/store"
)

// Authentication is out of scope; handlers identify the acting reviewer by
// the X-User header, resolved to a user row per request.

func (a *App) currentUser(r *http.Request) (*models.User, error) {
	username := r.Header.Get("X-User")
	if username == "" {
		return nil, fmt.Errorf("%w: missing X-User header", store.ErrValidation)
	}
	return a.store.GetUserByUsername(r.Context(), username)
}

// respondJSON writes payload as JSON with the given status. A nil payload
// sends only the status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps the store error taxonomy onto HTTP statuses:
// NotFound to 404, validation to 400, anything else to 500.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(id), nil
}

// Document handlers

func (a *App) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	listings, err := a.store.ListDocuments(r.Context(), user.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"textsData": listings})
}

func (a *App) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	docID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := a.store.GetDocument(r.Context(), docID, user.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// Normalization handlers

// normalizationValue is one overlay span in the read shape: the map key is
// the start index rendered as a string.
type normalizationValue struct {
	LastIndex int    `json:"last_index"`
	NewToken  string `json:"new_token"`
}

func (a *App) handleGetNormalizations(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	docID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	norms, err := a.store.GetNormalizations(r.Context(), docID, user.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	corrections := make(map[string]normalizationValue, len(norms))
	for _, n := range norms {
		corrections[strconv.Itoa(n.StartIndex)] = normalizationValue{
			LastIndex: n.EndIndex,
			NewToken:  n.NewToken,
		}
	}
	respondJSON(w, http.StatusOK, corrections)
}

type normalizationCreateRequest struct {
	FirstIndex    int    `json:"first_index"`
	LastIndex     int    `json:"last_index"`
	NewToken      string `json:"new_token"`
	SuggestForAll bool   `json:"suggest_for_all"`
}

func (a *App) handleSaveNormalization(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	docID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body normalizationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	n := &models.Normalization{
		DocumentID: docID,
		UserID:     user.ID,
		StartIndex: body.FirstIndex,
		EndIndex:   body.LastIndex,
		NewToken:   body.NewToken,
	}
	if err := a.store.SaveNormalization(r.Context(), n, body.SuggestForAll); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Correction added: " + body.NewToken})
}

type normalizationDeleteRequest struct {
	WordIndex int `json:"word_index"`
}

func (a *App) handleDeleteNormalization(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	docID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body normalizationDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := a.store.DeleteNormalization(r.Context(), docID, user.ID, body.WordIndex); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Normalization deleted"})
}

func (a *App) handleDeleteAllNormalizations(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	docID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.DeleteAllNormalizations(r.Context(), docID, user.ID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "All normalizations deleted"})
}

func (a *App) handleToggleNormalizedStatus(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	docID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.ToggleNormalized(r.Context(), docID, user.ID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Status changed"})
}

// handleToggleToBeNormalized flips the token's shared flag. The mutation is
// global: every reviewer sees the new value, regardless of who toggled it.
func (a *App) handleToggleToBeNormalized(w http.ResponseWriter, r *http.Request) {
	if _, err := a.currentUser(r); err != nil {
		respondStoreError(w, err)
		return
	}
	tokenID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.ToggleToBeNormalized(r.Context(), tokenID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Token 'to_be_normalized' status toggled"})
}

// Whitelist handlers

func (a *App) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	if _, err := a.currentUser(r); err != nil {
		respondStoreError(w, err)
		return
	}
	tokens, err := a.store.GetWhitelist(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if tokens == nil {
		tokens = []string{}
	}
	respondJSON(w, http.StatusOK, map[string][]string{"tokens": tokens})
}

type whitelistManageRequest struct {
	TokenText string `json:"token_text"`
	Action    string `json:"action"`
}

func (a *App) handleManageWhitelist(w http.ResponseWriter, r *http.Request) {
	if _, err := a.currentUser(r); err != nil {
		respondStoreError(w, err)
		return
	}
	var body whitelistManageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	var message string
	var err error
	switch body.Action {
	case "add":
		err = a.store.AddWhitelistToken(r.Context(), body.TokenText)
		message = fmt.Sprintf("Token %q added to whitelist.", body.TokenText)
	case "remove":
		err = a.store.RemoveWhitelistToken(r.Context(), body.TokenText)
		message = fmt.Sprintf("Token %q removed from whitelist.", body.TokenText)
	default:
		respondError(w, http.StatusBadRequest, "Invalid action")
		return
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}

// Assignment handlers

type bulkAssignRequest struct {
	TextIDs   []uint   `json:"text_ids"`
	Usernames []string `json:"usernames"`
}

// handleBulkAssign distributes the requested documents round-robin across
// the requested users. Unknown usernames are dropped during resolution; if
// nothing remains to assign, the caller gets a 400.
func (a *App) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	if _, err := a.currentUser(r); err != nil {
		respondStoreError(w, err)
		return
	}
	var body bulkAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	userIDs, err := a.store.UserIDsByUsernames(r.Context(), body.Usernames)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if len(userIDs) == 0 {
		respondError(w, http.StatusBadRequest, "No valid users found")
		return
	}
	if len(body.TextIDs) == 0 {
		respondError(w, http.StatusBadRequest, "No texts provided")
		return
	}

	counts, err := a.store.BulkAssignDocuments(r.Context(), body.TextIDs, userIDs)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	usernameCounts := make(map[string]int, len(counts))
	for userID, count := range counts {
		username, err := a.store.UsernameByID(r.Context(), userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		usernameCounts[username] = count
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message":     "Texts assigned successfully",
		"assignments": usernameCounts,
		"totalTexts":  len(body.TextIDs),
		"totalUsers":  len(userIDs),
	})
}

// User handlers

func (a *App) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if user.Username == "" {
		respondError(w, http.StatusBadRequest, "Username is required")
		return
	}
	if err := a.store.CreateUser(r.Context(), &user); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// Export handlers

type exportRequest struct {
	TextIDs []uint `json:"text_ids"`
	UseTags bool   `json:"use_tags"`
}

func (a *App) handleExportZip(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	var body exportRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(body.TextIDs) == 0 {
		respondError(w, http.StatusBadRequest, "No texts provided")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="recovered_texts.zip"`)
	if err := a.exporter.WriteZip(r.Context(), w, user.ID, body.TextIDs, body.UseTags); err != nil {
		a.log.Error().Err(err).Msg("zip export failed")
	}
}

func (a *App) handleExportReport(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	var body exportRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(body.TextIDs) == 0 {
		respondError(w, http.StatusBadRequest, "No texts provided")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="report.csv"`)
	if err := a.exporter.WriteReport(r.Context(), w, user.ID, body.TextIDs); err != nil {
		a.log.Error().Err(err).Msg("report export failed")
	}
}

// Ingestion handlers

type ingestRequest struct {
	ZipPath string `json:"zip_path"`
}

// handleStartIngest queues a server-local zip of text files for background
// ingestion and returns the job ID for polling. Upload transport is out of
// scope; the zip must already be on the server's filesystem.
func (a *App) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	if _, err := a.currentUser(r); err != nil {
		respondStoreError(w, err)
		return
	}
	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	files, err := readZipFile(body.ZipPath)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The job outlives the request, so it does not run under the request
	// context. There is no mid-job cancellation.
	jobID := a.ingest.Submit(context.Background(), files)
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (a *App) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.ingest.Status(mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func readZipFile(path string) ([]ingest.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat zip: %w", err)
	}
	return ingest.ReadZipBatch(f, info.Size())
}
