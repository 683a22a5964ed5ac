// Package httpapi exposes the escrow lifecycle over HTTP. Identity arrives as
// gateway-verified headers; every other rule lives in the lifecycle manager.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/ledger"
	"github.com/secureshuttle/escrow/lifecycle"
	"github.com/secureshuttle/escrow/settlement"
	"github.com/secureshuttle/escrow/types"
)

// Handler wires the lifecycle manager to the router.
type Handler struct {
	mgr *lifecycle.Manager
	log *zap.Logger
}

func NewHandler(mgr *lifecycle.Manager, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{mgr: mgr, log: log.Named("httpapi")}
}

// NewRouter builds the full route tree.
func NewRouter(h *Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), actorMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/escrows", h.Create)
		v1.GET("/escrows", h.List)
		v1.GET("/escrows/:id", h.Get)
		v1.PATCH("/escrows/:id", h.Update)
		v1.GET("/escrows/:id/balance", h.Balance)
		v1.GET("/escrows/:id/transactions", h.Transactions)
		v1.POST("/escrows/:id/sync-funding", h.SyncFunding)
		v1.POST("/escrows/:id/mark-funded", h.MarkFunded)
		v1.POST("/escrows/:id/service-complete", h.MarkServiceComplete)
		v1.POST("/escrows/:id/dispute", h.OpenDispute)
		v1.POST("/escrows/:id/release", h.Release)
		v1.POST("/escrows/:id/cancel", h.Cancel)
		v1.POST("/escrows/:id/reconcile", h.Reconcile)
		v1.POST("/escrows/:id/invite", h.CreateInvite)
		v1.POST("/invites/accept", h.AcceptInvite)

		// Public-id routes for participants joining via a shared link.
		v1.GET("/public/escrows/:publicId", h.GetPublic)
		v1.POST("/public/escrows/:publicId/claim", h.ClaimRole)
		v1.POST("/public/escrows/:publicId/recipient-address", h.SetRecipientAddress)
		v1.POST("/public/escrows/:publicId/release", h.ReleasePublic)
		v1.POST("/public/escrows/:publicId/cancel", h.CancelPublic)
	}
	return r
}

type createRequest struct {
	Label                  string `json:"label"`
	SenderAddress          string `json:"sender_address"`
	RecipientAddress       string `json:"recipient_address"`
	ExpectedAmountLamports uint64 `json:"expected_amount_lamports"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	res, err := h.mgr.Create(c.Request.Context(), actorFrom(c), lifecycle.CreateInput{
		Label:                  req.Label,
		SenderAddress:          req.SenderAddress,
		RecipientAddress:       req.RecipientAddress,
		ExpectedAmountLamports: req.ExpectedAmountLamports,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"escrow":     viewEscrow(res.Escrow),
		"join_token": res.JoinToken,
	})
}

func (h *Handler) Get(c *gin.Context) {
	esc, err := h.mgr.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

func (h *Handler) GetPublic(c *gin.Context) {
	esc, err := h.mgr.GetByPublicID(c.Request.Context(), c.Param("publicId"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

type listRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit,default=20"`
	Offset int    `form:"offset"`
	Scope  string `form:"scope,default=mine"`
}

func (h *Handler) List(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	total, items, err := h.mgr.List(c.Request.Context(), actorFrom(c),
		types.Status(req.Status), req.Limit, req.Offset, req.Scope != "all")
	if err != nil {
		respondErr(c, err)
		return
	}
	views := make([]escrowView, 0, len(items))
	for _, e := range items {
		views = append(views, viewEscrow(e))
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "items": views})
}

type updateRequest struct {
	Label                  *string `json:"label"`
	SenderAddress          *string `json:"sender_address"`
	RecipientAddress       *string `json:"recipient_address"`
	ExpectedAmountLamports *uint64 `json:"expected_amount_lamports"`
}

func (h *Handler) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	esc, err := h.mgr.Update(c.Request.Context(), c.Param("id"), actorFrom(c), lifecycle.UpdateInput{
		Label:                  req.Label,
		SenderAddress:          req.SenderAddress,
		RecipientAddress:       req.RecipientAddress,
		ExpectedAmountLamports: req.ExpectedAmountLamports,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

func (h *Handler) Balance(c *gin.Context) {
	address, lamports, err := h.mgr.Balance(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":  address,
		"lamports": lamports,
		"sol":      float64(lamports) / float64(ledger.LamportsPerSOL),
	})
}

func (h *Handler) Transactions(c *gin.Context) {
	txs, err := h.mgr.Transactions(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": viewTransactions(txs)})
}

type claimRequest struct {
	Role      string `json:"role" binding:"required"`
	JoinToken string `json:"join_token" binding:"required"`
}

func (h *Handler) ClaimRole(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	esc, err := h.mgr.ClaimRole(c.Request.Context(), c.Param("publicId"), actorFrom(c),
		types.Role(req.Role), req.JoinToken)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

type recipientAddressRequest struct {
	JoinToken string `json:"join_token" binding:"required"`
	Address   string `json:"address" binding:"required"`
}

func (h *Handler) SetRecipientAddress(c *gin.Context) {
	var req recipientAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	esc, err := h.mgr.SetRecipientAddress(c.Request.Context(), c.Param("publicId"), actorFrom(c),
		req.JoinToken, req.Address)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

func (h *Handler) CreateInvite(c *gin.Context) {
	esc, err := h.mgr.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	token, updated, err := h.mgr.CreateInvite(c.Request.Context(), esc.PublicID, actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"invite_token": token,
		"escrow":       viewEscrow(updated),
	})
}

type acceptInviteRequest struct {
	InviteToken string `json:"invite_token" binding:"required"`
}

func (h *Handler) AcceptInvite(c *gin.Context) {
	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	esc, err := h.mgr.AcceptInvite(c.Request.Context(), req.InviteToken, actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

func (h *Handler) SyncFunding(c *gin.Context) {
	report, err := h.mgr.SyncFunding(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"escrow":            viewEscrow(report.Escrow),
		"balance_lamports":  report.BalanceLamports,
		"required_lamports": report.RequiredLamports,
		"funded":            report.Funded,
		"new_deposits":      report.NewDeposits,
	})
}

func (h *Handler) MarkFunded(c *gin.Context) {
	esc, err := h.mgr.MarkFunded(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

func (h *Handler) MarkServiceComplete(c *gin.Context) {
	esc, err := h.mgr.MarkServiceComplete(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

// bindOptionalJSON decodes a body whose fields are all optional; an empty
// body is the zero request.
func bindOptionalJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) OpenDispute(c *gin.Context) {
	var req disputeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	esc, err := h.mgr.OpenDispute(c.Request.Context(), c.Param("id"), actorFrom(c), req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewEscrow(esc))
}

type releaseRequest struct {
	RecipientOverride string  `json:"recipient_override"`
	AmountLamports    *uint64 `json:"amount_lamports"`
	IdempotencyKey    string  `json:"idempotency_key"`
}

func (h *Handler) Release(c *gin.Context) {
	h.release(c, func(ctx context.Context, actor lifecycle.Actor, in lifecycle.ReleaseInput) (*settlement.Outcome, *types.Escrow, error) {
		return h.mgr.Release(ctx, c.Param("id"), actor, in)
	})
}

func (h *Handler) ReleasePublic(c *gin.Context) {
	h.release(c, func(ctx context.Context, actor lifecycle.Actor, in lifecycle.ReleaseInput) (*settlement.Outcome, *types.Escrow, error) {
		return h.mgr.ReleaseByPublicID(ctx, c.Param("publicId"), actor, in)
	})
}

func (h *Handler) release(c *gin.Context, run func(context.Context, lifecycle.Actor, lifecycle.ReleaseInput) (*settlement.Outcome, *types.Escrow, error)) {
	var req releaseRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	outcome, esc, err := run(c.Request.Context(), actorFrom(c), lifecycle.ReleaseInput{
		RecipientOverride: req.RecipientOverride,
		AmountOverride:    req.AmountLamports,
		IdempotencyKey:    req.IdempotencyKey,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome,
		"escrow":  viewEscrow(esc),
	})
}

type cancelRequest struct {
	Mode            string `json:"mode"`
	OverrideAddress string `json:"override_address"`
	IdempotencyKey  string `json:"idempotency_key"`
}

func (h *Handler) Cancel(c *gin.Context) {
	h.cancel(c, func(ctx context.Context, actor lifecycle.Actor, in lifecycle.CancelInput) (*settlement.Outcome, *types.Escrow, error) {
		return h.mgr.Cancel(ctx, c.Param("id"), actor, in)
	})
}

func (h *Handler) CancelPublic(c *gin.Context) {
	h.cancel(c, func(ctx context.Context, actor lifecycle.Actor, in lifecycle.CancelInput) (*settlement.Outcome, *types.Escrow, error) {
		return h.mgr.CancelByPublicID(ctx, c.Param("publicId"), actor, in)
	})
}

func (h *Handler) cancel(c *gin.Context, run func(context.Context, lifecycle.Actor, lifecycle.CancelInput) (*settlement.Outcome, *types.Escrow, error)) {
	var req cancelRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	outcome, esc, err := run(c.Request.Context(), actorFrom(c), lifecycle.CancelInput{
		Mode:            settlement.Mode(req.Mode),
		OverrideAddress: req.OverrideAddress,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	body := gin.H{"escrow": viewEscrow(esc)}
	if outcome != nil {
		body["outcome"] = outcome
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Reconcile(c *gin.Context) {
	res, err := h.mgr.Reconcile(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
