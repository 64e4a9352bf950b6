package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type EscrowResponse struct {
	OrderID       string `json:"order_id"`
	WalletAddress string `json:"wallet_address"`
	WalletKind    string `json:"wallet_kind"`
	ReleaseStatus string `json:"release_status"`
}

type ReleaseResponse struct {
	OrderID       string `json:"order_id"`
	Total         string `json:"total"`
	Fee           string `json:"fee"`
	Seller        string `json:"seller"`
	SellerAddress string `json:"seller_address"`
}
