package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
)

const (
	defaultAttemptMinutes = 60
	maxAttemptMinutes     = 7 * 24 * 60
)

// IPBlockServiceInterface defines the block registry operations exposed to admins
type IPBlockServiceInterface interface {
	List(ctx context.Context, filter models.IPBlockFilter) ([]*models.IPBlock, error)
	BlockIP(ctx context.Context, ipAddress, reason, actorID string) (*models.IPBlock, bool, error)
	Unblock(ctx context.Context, blockID, actorID string) (bool, error)
	BulkUnblock(ctx context.Context, blockIDs []string, actorID string) (services.BulkUnblockResult, error)
}

// AttemptHistoryInterface lists recent failed logins
type AttemptHistoryInterface interface {
	History(ctx context.Context, ipAddress string, window time.Duration, limit int) ([]*models.FailedLoginAttempt, error)
}

// StatsServiceInterface defines the dashboard stats contract
type StatsServiceInterface interface {
	GetStats(ctx context.Context) (*models.SecurityStats, error)
}

// AdminHandler handles the admin security surface.
type AdminHandler struct {
	blocks   IPBlockServiceInterface
	attempts AttemptHistoryInterface
	stats    StatsServiceInterface
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(blocks IPBlockServiceInterface, attempts AttemptHistoryInterface, stats StatsServiceInterface) *AdminHandler {
	return &AdminHandler{blocks: blocks, attempts: attempts, stats: stats}
}

// CreateIPBlockRequest represents the request body for a manual block
type CreateIPBlockRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

// BulkUnblockRequest represents the request body for a batch unblock
type BulkUnblockRequest struct {
	BlockIDs []string `json:"block_ids" validate:"required,min=1,max=100,dive,required"`
}

// IPBlockListResponse wraps a page of blocks
type IPBlockListResponse struct {
	Blocks []*models.IPBlock `json:"blocks"`
	Count  int               `json:"count"`
}

// CreateIPBlockResponse reports a manual block
type CreateIPBlockResponse struct {
	Block   *models.IPBlock `json:"block"`
	Created bool            `json:"created"`
}

// FailedAttemptsResponse wraps a failed-attempt listing
type FailedAttemptsResponse struct {
	Attempts []*models.FailedLoginAttempt `json:"attempts"`
	Count    int                          `json:"count"`
	Minutes  int                          `json:"minutes"`
}

func actorID(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	return ""
}

// queryInt parses an optional positive integer query parameter, falling back to def
func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// ListIPBlocks handles GET /admin/ip-blocks
// Accepts ?active=true, ?ip=a,b and ?limit=&offset=.
func (h *AdminHandler) ListIPBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.IPBlockFilter{
		ActiveOnly: q.Get("active") == "true",
		Limit:      queryInt(r, "limit", 50, 500),
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}
	if ips := q.Get("ip"); ips != "" {
		for _, ip := range strings.Split(ips, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				filter.IPAddresses = append(filter.IPAddresses, ip)
			}
		}
	}

	blocks, err := h.blocks.List(r.Context(), filter)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list IP blocks")
		return
	}
	if blocks == nil {
		blocks = []*models.IPBlock{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, IPBlockListResponse{Blocks: blocks, Count: len(blocks)})
}

// CreateIPBlock handles POST /admin/ip-blocks. Blocking an already blocked IP
// returns the existing block with 200.
func (h *AdminHandler) CreateIPBlock(w http.ResponseWriter, r *http.Request) {
	var req CreateIPBlockRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	block, created, err := h.blocks.BlockIP(r.Context(), req.IPAddress, strings.TrimSpace(req.Reason), actorID(r))
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "ip_address is required")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to block IP address")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	pkghttp.WriteJSON(w, status, CreateIPBlockResponse{Block: block, Created: created})
}

// UnblockIP handles POST /admin/ip-blocks/{id}/unblock
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		pkghttp.WriteBadRequest(w, "block id is required")
		return
	}

	unblocked, err := h.blocks.Unblock(r.Context(), id, actorID(r))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "IP block not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to unblock IP address")
		return
	}
	if !unblocked {
		pkghttp.WriteConflict(w, "IP block is already inactive")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "IP address unblocked"})
}

// BulkUnblock handles POST /admin/ip-blocks/bulk-unblock
func (h *AdminHandler) BulkUnblock(w http.ResponseWriter, r *http.Request) {
	var req BulkUnblockRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.blocks.BulkUnblock(r.Context(), req.BlockIDs, actorID(r))
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to unblock IP addresses")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// ListFailedAttempts handles GET /admin/failed-attempts
// Accepts ?ip= (all sources when empty), ?minutes= (default 60) and ?limit=.
func (h *AdminHandler) ListFailedAttempts(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", defaultAttemptMinutes, maxAttemptMinutes)
	limit := queryInt(r, "limit", 100, 500)
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))

	attempts, err := h.attempts.History(r.Context(), ip, time.Duration(minutes)*time.Minute, limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list failed attempts")
		return
	}
	if attempts == nil {
		attempts = []*models.FailedLoginAttempt{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, FailedAttemptsResponse{Attempts: attempts, Count: len(attempts), Minutes: minutes})
}

// GetSecurityStats handles GET /admin/security/stats
func (h *AdminHandler) GetSecurityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve security stats")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}
