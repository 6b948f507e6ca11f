package annotext

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails. On cancellation it shuts down gracefully, giving active
// requests five seconds to complete.
//
// Routes:
//
//	GET    /api/health                         - service health
//	POST   /api/users                          - create reviewer
//	GET    /api/texts/                         - document listing for the caller
//	GET    /api/texts/{id}                     - document detail with tokens
//	GET    /api/texts/{id}/normalizations      - the caller's overlay
//	POST   /api/texts/{id}/normalizations      - save one normalization
//	DELETE /api/texts/{id}/normalizations      - delete one normalization
//	DELETE /api/texts/{id}/normalizations/all  - delete the caller's overlay
//	PATCH  /api/texts/{id}/normalizations      - toggle normalized status
//	PATCH  /api/tokens/{id}/suggestions/toggle - toggle shared token flag
//	GET    /api/whitelist/                     - list whitelist entries
//	POST   /api/whitelist/                     - add/remove whitelist entry
//	DELETE /api/whitelist/                     - add/remove whitelist entry
//	POST   /api/assignments/                   - round-robin bulk assignment
//	POST   /api/exports/zip                    - rebuilt texts as a zip
//	POST   /api/exports/report                 - CSV audit report
//	POST   /api/ingest                         - queue a batch ingestion job
//	GET    /api/jobs/{id}                      - poll ingestion progress
//
// The acting reviewer is taken from the X-User header on every endpoint
// except health and user creation.
func (a *App) Run(ctx context.Context, cmd *RunCommand) error {
	router := a.router()

	addr := fmt.Sprintf(":%s", a.config.ServerPort)
	a.log.Info().Str("addr", addr).Msg("starting annotext server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (a *App) router() *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", a.handleHealth).Methods("GET")

	api.HandleFunc("/users", a.handleCreateUser).Methods("POST")

	api.HandleFunc("/texts/", a.handleListDocuments).Methods("GET")
	api.HandleFunc("/texts/{id}", a.handleGetDocument).Methods("GET")
	api.HandleFunc("/texts/{id}/normalizations", a.handleGetNormalizations).Methods("GET")
	api.HandleFunc("/texts/{id}/normalizations", a.handleSaveNormalization).Methods("POST")
	api.HandleFunc("/texts/{id}/normalizations", a.handleDeleteNormalization).Methods("DELETE")
	api.HandleFunc("/texts/{id}/normalizations/all", a.handleDeleteAllNormalizations).Methods("DELETE")
	api.HandleFunc("/texts/{id}/normalizations", a.handleToggleNormalizedStatus).Methods("PATCH")
	api.HandleFunc("/tokens/{id}/suggestions/toggle", a.handleToggleToBeNormalized).Methods("PATCH")

	api.HandleFunc("/whitelist/", a.handleGetWhitelist).Methods("GET")
	api.HandleFunc("/whitelist/", a.handleManageWhitelist).Methods("POST", "DELETE")

	api.HandleFunc("/assignments/", a.handleBulkAssign).Methods("POST")

	api.HandleFunc("/exports/zip", a.handleExportZip).Methods("POST")
	api.HandleFunc("/exports/report", a.handleExportReport).Methods("POST")

	api.HandleFunc("/ingest", a.handleStartIngest).Methods("POST")
	api.HandleFunc("/jobs/{id}", a.handleJobStatus).Methods("GET")

	router.HandleFunc("/health", a.handleHealth).Methods("GET")

	return router
}
