package dto

type CreateEscrowRequest struct {
	OrderID string `json:"order_id"`
}
