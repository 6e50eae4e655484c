package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/importer"
	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	config       *config.Config
	db           *gorm.DB
	orchestrator *importer.Orchestrator
	verifier     *importer.Verifier
}

func NewHandler(cfg *config.Config, db *gorm.DB, orch *importer.Orchestrator, verifier *importer.Verifier) *Handler {
	return &Handler{
		config:       cfg,
		db:           db,
		orchestrator: orch,
		verifier:     verifier,
	}
}

// HealthCheck returns the health status of the service
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
	}

	respondJSON(w, http.StatusOK, response)
}

// GetStatus returns the polling projection of the current import state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Status retrieved successfully",
		Data:    h.orchestrator.Status(),
	})
}

// StartImport launches a new import run and returns its id immediately
func (h *Handler) StartImport(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondJSON(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}
	if input.Strategy == "" {
		input.Strategy = importer.StrategyFull
	}

	logger.Info("Import triggered", zap.String("strategy", input.Strategy))

	importID, err := h.orchestrator.StartImport(input.Strategy)
	if err != nil {
		if errors.Is(err, importer.ErrLockHeld) {
			respondJSON(w, http.StatusConflict, models.APIResponse{
				Success: false,
				Error:   "Import already in progress",
				Code:    "ADVISORY_LOCK_HELD",
			})
			return
		}
		respondJSON(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusAccepted, models.APIResponse{
		Success: true,
		Message: "Import started",
		Data:    map[string]string{"import_id": importID},
	})
}

// CancelImport requests cooperative cancellation of a running import
func (h *Handler) CancelImport(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ImportID string `json:"import_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.ImportID == "" {
		respondJSON(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "import_id is required",
		})
		return
	}

	if err := h.orchestrator.Cancel(input.ImportID); err != nil {
		respondJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusAccepted, models.APIResponse{
		Success: true,
		Message: "Cancellation requested",
		Data:    map[string]string{"import_id": input.ImportID},
	})
}

// RetrySkippedPages re-fetches only the listed pages for one entity type
func (h *Handler) RetrySkippedPages(w http.ResponseWriter, r *http.Request) {
	var input struct {
		EntityType  string `json:"entity_type"`
		PageNumbers []int  `json:"page_numbers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.EntityType == "" || len(input.PageNumbers) == 0 {
		respondJSON(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "entity_type and page_numbers are required",
		})
		return
	}

	result, err := h.orchestrator.RetrySkippedPages(r.Context(), input.EntityType, input.PageNumbers)
	if err != nil {
		if errors.Is(err, importer.ErrLockHeld) {
			respondJSON(w, http.StatusConflict, models.APIResponse{
				Success: false,
				Error:   "Import already in progress",
				Code:    "ADVISORY_LOCK_HELD",
			})
			return
		}
		respondJSON(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Skipped pages retried",
		Data:    result,
	})
}

// GetSkippedPages lists the deferred pages grouped by entity type
func (h *Handler) GetSkippedPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.orchestrator.SkippedPages()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "Failed to load skipped pages",
		})
		return
	}
	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Skipped pages retrieved successfully",
		Data:    pages,
	})
}

// GetImports returns the sync log with pagination
func (h *Handler) GetImports(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	var total int64
	h.db.Model(&models.ImportRun{}).Count(&total)

	var runs []models.ImportRun
	h.db.Offset(offset).Limit(limit).Order("start_time DESC").Find(&runs)

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Imports retrieved successfully",
		Data: map[string]interface{}{
			"imports": runs,
			"page":    page,
			"limit":   limit,
			"total":   total,
		},
	})
}

// GetImportByID returns a specific import run
func (h *Handler) GetImportByID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var run models.ImportRun
	if err := h.db.Where("import_id = ?", id).First(&run).Error; err != nil {
		respondJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "Import not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Import retrieved successfully",
		Data:    run,
	})
}

// RunVerification triggers a manual verification run in the background
func (h *Handler) RunVerification(w http.ResponseWriter, r *http.Request) {
	logger.Info("Manual verification triggered")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := h.verifier.RunDataVerification(ctx, "manual"); err != nil {
			logger.Error("Verification run failed", zap.Error(err))
		}
	}()

	respondJSON(w, http.StatusAccepted, models.APIResponse{
		Success: true,
		Message: "Verification started",
	})
}

// GetVerificationLatest returns the most recent verification report
func (h *Handler) GetVerificationLatest(w http.ResponseWriter, r *http.Request) {
	report, err := h.verifier.Latest()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "Failed to load verification report",
		})
		return
	}
	if report == nil {
		respondJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "No verification report yet",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Verification report retrieved successfully",
		Data:    report,
	})
}

// GetVerificationHistory returns historical verification reports
func (h *Handler) GetVerificationHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reports, err := h.verifier.History(limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "Failed to load verification history",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Verification history retrieved successfully",
		Data:    reports,
	})
}

// GetIntegrityLatest returns the most recent integrity report
func (h *Handler) GetIntegrityLatest(w http.ResponseWriter, r *http.Request) {
	report, err := h.orchestrator.Integrity().Latest()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "Failed to load integrity report",
		})
		return
	}
	if report == nil {
		respondJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "No integrity report yet",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Integrity report retrieved successfully",
		Data:    report,
	})
}

// GetPlayers returns all players with pagination
func (h *Handler) GetPlayers(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	country := r.URL.Query().Get("country")
	clubID := r.URL.Query().Get("club_id")

	query := h.db.Model(&models.Player{})
	if country != "" {
		query = query.Where("country = ?", country)
	}
	if clubID != "" {
		query = query.Where("club_external_id = ?", clubID)
	}

	var total int64
	query.Count(&total)

	var players []models.Player
	query.Offset(offset).Limit(limit).Preload("Club").Order("elo_rating DESC").Find(&players)

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Players retrieved successfully",
		Data: map[string]interface{}{
			"players": players,
			"page":    page,
			"limit":   limit,
			"total":   total,
		},
	})
}

// GetPlayerByID returns a specific player
func (h *Handler) GetPlayerByID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var player models.Player
	if err := h.db.Where("external_id = ?", id).Preload("Club").First(&player).Error; err != nil {
		respondJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "Player not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Player retrieved successfully",
		Data:    player,
	})
}

// GetClubs returns all clubs with pagination
func (h *Handler) GetClubs(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	country := r.URL.Query().Get("country")

	query := h.db.Model(&models.Club{})
	if country != "" {
		query = query.Where("country = ?", country)
	}

	var total int64
	query.Count(&total)

	var clubs []models.Club
	query.Offset(offset).Limit(limit).Order("rating DESC").Find(&clubs)

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Clubs retrieved successfully",
		Data: map[string]interface{}{
			"clubs": clubs,
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetClubByID returns a specific club
func (h *Handler) GetClubByID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var club models.Club
	if err := h.db.Where("external_id = ?", id).Preload("Players").First(&club).Error; err != nil {
		respondJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "Club not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Club retrieved successfully",
		Data:    club,
	})
}

// GetTournaments returns all tournaments with pagination
func (h *Handler) GetTournaments(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	var total int64
	h.db.Model(&models.Tournament{}).Count(&total)

	var tournaments []models.Tournament
	h.db.Offset(offset).Limit(limit).Order("start_date DESC").Find(&tournaments)

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Tournaments retrieved successfully",
		Data: map[string]interface{}{
			"tournaments": tournaments,
			"page":        page,
			"limit":       limit,
			"total":       total,
		},
	})
}

// GetTournamentByID returns a specific tournament
func (h *Handler) GetTournamentByID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var tournament models.Tournament
	if err := h.db.Where("external_id = ?", id).First(&tournament).Error; err != nil {
		respondJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "Tournament not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Tournament retrieved successfully",
		Data:    tournament,
	})
}

func parsePagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
