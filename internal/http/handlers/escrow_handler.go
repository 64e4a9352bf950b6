package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tonmarket/settlement/internal/http/dto"
	"github.com/tonmarket/settlement/internal/services"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	scheduler     *services.ReleaseScheduler
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, scheduler *services.ReleaseScheduler, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, scheduler: scheduler, log: log}
}

// CreateEscrow provisions the deposit wallet for an order.
// POST /escrow
func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order_id"})
	}

	w, err := h.escrowService.CreateEscrow(c.Context(), orderID)
	if err != nil {
		h.log.Error("escrow creation failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.EscrowResponse{
		OrderID:       w.OrderID.String(),
		WalletAddress: w.WalletAddress,
		WalletKind:    string(w.WalletKind),
		ReleaseStatus: w.ReleaseStatus,
	}})
}

// GetEscrow reports wallet state and recorded transfers for an order.
// GET /escrow/:orderID
func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("orderID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	status, err := h.escrowService.GetStatus(c.Context(), orderID)
	if errors.Is(err, services.ErrWalletNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow not found"})
	}
	if err != nil {
		h.log.Error("escrow status read failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

// GetAudit lists audit entries for an order.
// GET /escrow/:orderID/audit
func (h *EscrowHandler) GetAudit(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("orderID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := h.escrowService.GetAuditTrail(c.Context(), orderID, limit, offset)
	if err != nil {
		h.log.Error("audit trail read failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// Release settles an order ahead of its timer. Calling it on an already
// settled order is a safe no-op reported as a conflict.
// POST /escrow/:orderID/release
func (h *EscrowHandler) Release(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("orderID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	res, err := h.scheduler.Trigger(c.Context(), orderID)
	switch {
	case err == nil:
		return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ReleaseResponse{
			OrderID:       res.OrderID.String(),
			Total:         res.Total.String(),
			Fee:           res.Fee.String(),
			Seller:        res.Seller.String(),
			SellerAddress: res.SellerAddress,
		}})
	case errors.Is(err, services.ErrWalletNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow not found"})
	case errors.Is(err, services.ErrEmptyBalance):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "escrow balance is empty"})
	case errors.Is(err, services.ErrSellerWalletMissing):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Error: "seller has no payout wallet"})
	case errors.Is(err, services.ErrTransferFailed):
		h.log.Error("manual release failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "transfer failed"})
	default:
		h.log.Error("manual release error", zap.String("order_id", orderID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
}
