package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/gateway"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/health"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/registry"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/tracker"
)

// Simulator drives the in-memory daemon. Only wired when the server runs against the mock.
type Simulator interface {
	SimulateTransfer(id model.PaymentID, amount model.Amount, confirmations uint64) string
	MineBlocks(n uint64)
	SetUnreachable(down bool)
}

// Handler holds HTTP handler dependencies.
type Handler struct {
	client *tracker.Client[model.Metadata]
	sim    Simulator
	logger *zap.Logger
}

// New creates a new Handler. sim may be nil.
func New(client *tracker.Client[model.Metadata], sim Simulator, logger *zap.Logger) *Handler {
	return &Handler{client: client, sim: sim, logger: logger}
}

// RegisterRoutes registers all API routes on the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/health/daemon", h.DaemonHealth)

	v1 := r.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("", h.CreatePayment)
			payments.GET("/:id", h.GetPayment)
			payments.PUT("/:id/metadata", h.UpdateMetadata)
			payments.POST("/:id/poll", h.PollPayment)
			payments.POST("/:id/enqueue", h.EnqueuePayment)
			payments.DELETE("/:id", h.DeletePayment)
		}
		v1.POST("/poll", h.PollAll)
	}

	if h.sim != nil {
		sim := r.Group("/simulate")
		sim.POST("/transfer", h.SimulateTransfer)
		sim.POST("/blocks", h.SimulateBlocks)
		sim.POST("/outage", h.SimulateOutage)
	}
}

type createPaymentRequest struct {
	Amount    *uint64        `json:"amount"`
	AmountXMR string         `json:"amount_xmr"`
	Metadata  model.Metadata `json:"metadata"`
}

type paymentResponse struct {
	PaymentID          model.PaymentID     `json:"payment_id"`
	Address            model.Address       `json:"address"`
	Status             model.PaymentStatus `json:"status"`
	AmountRequested    model.Amount        `json:"amount_requested"`
	AmountRequestedXMR string              `json:"amount_requested_xmr"`
	AmountReceived     model.Amount        `json:"amount_received"`
	AmountReceivedXMR  string              `json:"amount_received_xmr"`
	AmountConfirmed    model.Amount        `json:"amount_confirmed"`
	Confirmations      uint64              `json:"confirmations"`
	CreatedAt          time.Time           `json:"created_at"`
	CreatedHeight      uint64              `json:"created_height"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Metadata           model.Metadata      `json:"metadata,omitempty"`
	Queued             bool                `json:"queued"`
}

func (h *Handler) toResponse(p model.Payment[model.Metadata]) paymentResponse {
	return paymentResponse{
		PaymentID:          p.ID,
		Address:            p.Address,
		Status:             p.Status,
		AmountRequested:    p.AmountRequested,
		AmountRequestedXMR: p.AmountRequested.String(),
		AmountReceived:     p.AmountReceived,
		AmountReceivedXMR:  p.AmountReceived.String(),
		AmountConfirmed:    p.AmountConfirmed,
		Confirmations:      p.Confirmations,
		CreatedAt:          p.CreatedAt,
		CreatedHeight:      p.CreatedHeight,
		UpdatedAt:          p.UpdatedAt,
		Metadata:           p.Extra,
		Queued:             h.client.IsPending(p.ID),
	}
}

// CreatePayment handles POST /api/v1/payments
func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	amount, msg := requestedAmount(req.Amount, req.AmountXMR)
	if msg != "" {
		writeError(c, http.StatusBadRequest, msg)
		return
	}

	id, _, err := h.client.Allocate(c.Request.Context(), req.Metadata, amount)
	if err != nil {
		h.logger.Error("allocate_failed", zap.Error(err), zap.String("request_id", requestID(c)))
		writeError(c, errorStatus(err), err.Error())
		return
	}

	p, err := h.client.Status(id)
	if err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusCreated, h.toResponse(p))
}

func requestedAmount(pico *uint64, xmr string) (model.Amount, string) {
	switch {
	case pico != nil && xmr != "":
		return 0, "set only one of amount and amount_xmr"
	case pico != nil:
		return model.Amount(*pico), ""
	case xmr != "":
		a, err := model.ParseXMR(xmr)
		if err != nil {
			return 0, err.Error()
		}
		return a, ""
	default:
		return 0, ""
	}
}

// GetPayment handles GET /api/v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	p, err := h.client.Status(id)
	if err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, h.toResponse(p))
}

type metadataRequest struct {
	Metadata model.Metadata `json:"metadata" binding:"required"`
}

// UpdateMetadata handles PUT /api/v1/payments/:id/metadata
func (h *Handler) UpdateMetadata(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req metadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.client.UpdateExtra(id, req.Metadata); err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	p, err := h.client.Status(id)
	if err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, h.toResponse(p))
}

// PollPayment handles POST /api/v1/payments/:id/poll
func (h *Handler) PollPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	p, err := h.client.PollOne(c.Request.Context(), id)
	if err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, h.toResponse(p))
}

// EnqueuePayment handles POST /api/v1/payments/:id/enqueue
func (h *Handler) EnqueuePayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if err := h.client.Enqueue(id); err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"payment_id": id, "pending": h.client.Pending()})
}

// DeletePayment handles DELETE /api/v1/payments/:id
func (h *Handler) DeletePayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if err := h.client.Evict(id); err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// PollAll handles POST /api/v1/poll
func (h *Handler) PollAll(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.PollAll(c.Request.Context()))
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"tracked": h.client.Len(),
		"pending": h.client.Pending(),
		"height":  h.client.Height(),
	})
}

// DaemonHealth handles GET /health/daemon
func (h *Handler) DaemonHealth(c *gin.Context) {
	dh := h.client.DaemonHealth()
	status := http.StatusOK
	if dh.Status == health.StatusOpen {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dh)
}

type simulateTransferRequest struct {
	PaymentID     model.PaymentID `json:"payment_id"`
	Amount        *uint64         `json:"amount"`
	AmountXMR     string          `json:"amount_xmr"`
	Confirmations uint64          `json:"confirmations"`
}

// SimulateTransfer handles POST /simulate/transfer
func (h *Handler) SimulateTransfer(c *gin.Context) {
	var req simulateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, msg := requestedAmount(req.Amount, req.AmountXMR)
	if req.PaymentID.IsZero() {
		msg = "payment_id is required"
	} else if msg == "" && amount == 0 {
		msg = "amount must be greater than 0"
	}
	if msg != "" {
		writeError(c, http.StatusBadRequest, msg)
		return
	}

	txid := h.sim.SimulateTransfer(req.PaymentID, amount, req.Confirmations)
	h.logger.Info("transfer_simulated",
		zap.String("payment_id", req.PaymentID.String()),
		zap.Uint64("amount", uint64(amount)),
		zap.Uint64("confirmations", req.Confirmations),
	)
	c.JSON(http.StatusCreated, gin.H{"txid": txid})
}

type simulateBlocksRequest struct {
	Count uint64 `json:"count" binding:"required,min=1,max=10000"`
}

// SimulateBlocks handles POST /simulate/blocks
func (h *Handler) SimulateBlocks(c *gin.Context) {
	var req simulateBlocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.sim.MineBlocks(req.Count)
	height, err := h.client.RefreshHeight(c.Request.Context())
	if err != nil {
		writeError(c, errorStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"mined": req.Count, "height": height})
}

type simulateOutageRequest struct {
	Unreachable bool `json:"unreachable"`
}

// SimulateOutage handles POST /simulate/outage
func (h *Handler) SimulateOutage(c *gin.Context) {
	var req simulateOutageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.sim.SetUnreachable(req.Unreachable)
	h.logger.Info("daemon_outage_toggled", zap.Bool("unreachable", req.Unreachable))
	c.JSON(http.StatusOK, gin.H{"unreachable": req.Unreachable, "message": "outage mode updated"})
}

func paymentID(c *gin.Context) (model.PaymentID, bool) {
	id, err := model.ParsePaymentID(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return id, false
	}
	return id, true
}

// errorStatus maps tracker errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gateway.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, registry.ErrAllocation):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
