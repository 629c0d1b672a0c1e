package credits

// BalanceResponse is the API representation of a two-tier balance.
type BalanceResponse struct {
	PackageTotal     int64 `json:"package_total"`
	PackageUsed      int64 `json:"package_used"`
	PackageRemaining int64 `json:"package_remaining"`
	AccountBalance   int64 `json:"account_balance"`
	TotalAvailable   int64 `json:"total_available"`
}

// TopUpRequest credits a user's account balance.
type TopUpRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Credits int64  `json:"credits" binding:"required"`
	Reason  string `json:"reason"`
}
