package models

// Account is what the /me endpoint returns: the wallet plus whatever game
// state the user currently has open.
type Account struct {
	UserID      int64            `json:"user_id"`
	Wallet      BalanceResponse  `json:"wallet"`
	RideSession *RideSession     `json:"ride_session,omitempty"`
	ActiveCrash *ActiveCrashInfo `json:"active_crash,omitempty"`
}
