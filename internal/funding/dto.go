package funding

// TopUpRequest funds the caller's wallet from a card.
type TopUpRequest struct {
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
	Amount     int64  `json:"amount"`
	ClientTxID string `json:"client_tx_id"`
}

// WithdrawRequest pushes funds from the caller's wallet to a card.
type WithdrawRequest struct {
	CardNumber string `json:"card_number"`
	Amount     int64  `json:"amount"`
	ClientTxID string `json:"client_tx_id"`
}

// FundingResponse represents the API response for card funding actions.
type FundingResponse struct {
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	WalletBalance     int64  `json:"wallet_balance"`
	AcquirerReference string `json:"acquirer_reference,omitempty"`
}
