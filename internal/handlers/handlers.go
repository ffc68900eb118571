// Package handlers exposes the auto-recharge trigger and the tenant-facing
// configuration endpoints over gin.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"frameworks/purser-recharge/internal/ledger"
	"frameworks/purser-recharge/internal/recharge"
	"frameworks/purser-recharge/internal/settings"
	"frameworks/purser-recharge/pkg/auth"
	"frameworks/purser-recharge/pkg/billing"
	"frameworks/purser-recharge/pkg/ctxkeys"
	"frameworks/purser-recharge/pkg/logging"
)

type PassRunner interface {
	RunPass(ctx context.Context) (recharge.Report, error)
}

type SettingsStore interface {
	Get(ctx context.Context, orgID string) (settings.Config, error)
	Upsert(ctx context.Context, c settings.Config) (settings.Config, error)
}

type HistoryStore interface {
	ListEntries(ctx context.Context, orgID, entryType string, limit int) ([]ledger.Entry, error)
}

type Handlers struct {
	runner   PassRunner
	settings SettingsStore
	history  HistoryStore
	logger   logging.Logger
}

func New(runner PassRunner, settingsStore SettingsStore, history HistoryStore, logger logging.Logger) *Handlers {
	return &Handlers{runner: runner, settings: settingsStore, history: history, logger: logger}
}

// Register mounts the routes. The cron trigger is unauthenticated; the
// configuration endpoints require a tenant session.
func (h *Handlers) Register(router gin.IRouter, jwtSecret []byte) {
	router.GET("/cron/auto-recharge", h.TriggerAutoRecharge)

	billingGroup := router.Group("/billing")
	billingGroup.Use(auth.JWTAuthMiddleware(jwtSecret))
	{
		billingGroup.GET("/auto-recharge", h.GetAutoRecharge)
		billingGroup.POST("/auto-recharge", h.UpsertAutoRecharge)
		billingGroup.PUT("/auto-recharge", h.UpsertAutoRecharge)
		billingGroup.GET("/auto-recharge/history", h.GetAutoRechargeHistory)
	}
}

// TriggerAutoRecharge runs one full pass and returns {processed, errors}.
func (h *Handlers) TriggerAutoRecharge(c *gin.Context) {
	report, err := h.runner.RunPass(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Auto-recharge pass failed")
		msg := "auto-recharge pass failed"
		if errors.Is(err, recharge.ErrConfigFetch) {
			msg = recharge.ErrConfigFetch.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
		return
	}
	if report.Errors == nil {
		report.Errors = []string{}
	}
	c.JSON(http.StatusOK, report)
}

type configResponse struct {
	OrganizationID      string     `json:"organization_id"`
	Enabled             bool       `json:"enabled"`
	Threshold           float64    `json:"threshold"`
	RechargeAmount      float64    `json:"recharge_amount"`
	MaxMonthlyRecharges int        `json:"max_monthly_recharges"`
	RechargesThisMonth  int        `json:"recharges_this_month"`
	MonthResetAt        *time.Time `json:"month_reset_at,omitempty"`
	PaymentMethodRef    *string    `json:"payment_method_ref"`
	LastRechargeAt      *time.Time `json:"last_recharge_at,omitempty"`
	DisabledReason      string     `json:"disabled_reason,omitempty"`
}

func toResponse(cfg settings.Config) configResponse {
	resp := configResponse{
		OrganizationID:      cfg.OrganizationID,
		Enabled:             cfg.Enabled,
		Threshold:           billing.FromCents(cfg.ThresholdCents),
		RechargeAmount:      billing.FromCents(cfg.RechargeAmountCents),
		MaxMonthlyRecharges: cfg.MaxMonthlyRecharges,
		RechargesThisMonth:  cfg.RechargesThisMonth,
		LastRechargeAt:      cfg.LastRechargeAt,
		DisabledReason:      cfg.DisabledReason,
	}
	if !cfg.MonthResetAt.IsZero() {
		t := cfg.MonthResetAt
		resp.MonthResetAt = &t
	}
	if cfg.PaymentMethodRef != "" {
		ref := cfg.PaymentMethodRef
		resp.PaymentMethodRef = &ref
	}
	return resp
}

func tenantID(c *gin.Context) string {
	return c.GetString(string(ctxkeys.KeyTenantID))
}

// GetAutoRecharge returns the caller's configuration, or the default when none is stored.
func (h *Handlers) GetAutoRecharge(c *gin.Context) {
	orgID := tenantID(c)

	cfg, err := h.settings.Get(c.Request.Context(), orgID)
	if errors.Is(err, settings.ErrNotFound) {
		cfg = settings.Default(orgID)
	} else if err != nil {
		h.logger.WithError(err).WithField("organization_id", orgID).Error("Failed to load auto-recharge config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, toResponse(cfg))
}

// upsertRequest carries amounts in currency units; omitted fields keep their
// stored (or default) value.
type upsertRequest struct {
	Enabled             *bool    `json:"enabled"`
	Threshold           *float64 `json:"threshold"`
	RechargeAmount      *float64 `json:"recharge_amount"`
	MaxMonthlyRecharges *int     `json:"max_monthly_recharges"`
	PaymentMethodRef    *string  `json:"payment_method_ref"`
}

// UpsertAutoRecharge stores the caller's configuration with inputs clamped to the allowed ranges.
func (h *Handlers) UpsertAutoRecharge(c *gin.Context) {
	orgID := tenantID(c)

	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cfg, err := h.settings.Get(c.Request.Context(), orgID)
	if errors.Is(err, settings.ErrNotFound) {
		cfg = settings.Default(orgID)
	} else if err != nil {
		h.logger.WithError(err).WithField("organization_id", orgID).Error("Failed to load auto-recharge config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.Threshold != nil {
		cfg.ThresholdCents = billing.ToCents(*req.Threshold)
	}
	if req.RechargeAmount != nil {
		cfg.RechargeAmountCents = billing.ToCents(*req.RechargeAmount)
	}
	if req.MaxMonthlyRecharges != nil {
		cfg.MaxMonthlyRecharges = *req.MaxMonthlyRecharges
	}
	if req.PaymentMethodRef != nil {
		cfg.PaymentMethodRef = *req.PaymentMethodRef
	}

	stored, err := h.settings.Upsert(c.Request.Context(), cfg)
	if err != nil {
		h.logger.WithError(err).WithField("organization_id", orgID).Error("Failed to save auto-recharge config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.WithFields(logging.Fields{
		"organization_id": orgID,
		"enabled":         stored.Enabled,
	}).Info("Auto-recharge config updated")
	c.JSON(http.StatusOK, toResponse(stored))
}

type historyEntry struct {
	ID           string    `json:"id"`
	Amount       float64   `json:"amount"`
	Kind         string    `json:"kind"`
	BalanceAfter float64   `json:"balance_after"`
	Description  string    `json:"description"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// GetAutoRechargeHistory lists the caller's recent auto-recharge credits.
func (h *Handlers) GetAutoRechargeHistory(c *gin.Context) {
	orgID := tenantID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, err := h.history.ListEntries(c.Request.Context(), orgID, ledger.EntryTypeAutoRecharge, limit)
	if err != nil {
		h.logger.WithError(err).WithField("organization_id", orgID).Error("Failed to load auto-recharge history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:           e.ID,
			Amount:       billing.FromCents(e.AmountCents),
			Kind:         string(e.Kind),
			BalanceAfter: billing.FromCents(e.BalanceAfterCents),
			Description:  e.Description,
			ReferenceID:  e.ReferenceID,
			CreatedAt:    e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}
