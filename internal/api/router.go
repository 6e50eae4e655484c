package api

import (
	"github.com/gorilla/mux"
	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/importer"
	"gorm.io/gorm"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *gorm.DB, orch *importer.Orchestrator, verifier *importer.Verifier) *mux.Router {
	router := mux.NewRouter()

	// Create handler instance
	handler := NewHandler(cfg, db, orch, verifier)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Health & Status
	api.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	api.HandleFunc("/status", handler.GetStatus).Methods("GET")

	// Import control
	api.HandleFunc("/import/start", handler.StartImport).Methods("POST")
	api.HandleFunc("/import/cancel", handler.CancelImport).Methods("POST")
	api.HandleFunc("/import/retry-skipped", handler.RetrySkippedPages).Methods("POST")
	api.HandleFunc("/import/skipped-pages", handler.GetSkippedPages).Methods("GET")

	// Sync log
	api.HandleFunc("/imports", handler.GetImports).Methods("GET")
	api.HandleFunc("/imports/{id}", handler.GetImportByID).Methods("GET")

	// Verification & integrity
	api.HandleFunc("/verification/run", handler.RunVerification).Methods("POST")
	api.HandleFunc("/verification/latest", handler.GetVerificationLatest).Methods("GET")
	api.HandleFunc("/verification/history", handler.GetVerificationHistory).Methods("GET")
	api.HandleFunc("/integrity/latest", handler.GetIntegrityLatest).Methods("GET")

	// Data retrieval
	api.HandleFunc("/players", handler.GetPlayers).Methods("GET")
	api.HandleFunc("/players/{id}", handler.GetPlayerByID).Methods("GET")
	api.HandleFunc("/clubs", handler.GetClubs).Methods("GET")
	api.HandleFunc("/clubs/{id}", handler.GetClubByID).Methods("GET")
	api.HandleFunc("/tournaments", handler.GetTournaments).Methods("GET")
	api.HandleFunc("/tournaments/{id}", handler.GetTournamentByID).Methods("GET")

	// Middleware
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}
