package models

import "time"

// AccountStatus tracks activation and ban state for one chat user.
type AccountStatus string

const (
	StatusPending         AccountStatus = "pending"
	StatusActive          AccountStatus = "active"
	StatusTrialUsed       AccountStatus = "trial_used"
	StatusBannedTemporary AccountStatus = "banned_temporary"
	StatusBannedPermanent AccountStatus = "banned_permanent"
)

// Account is a chat user's balance record. Balance is in minor currency
// units and never goes negative. Note carries the ban annotation.
type Account struct {
	ID         int64
	TelegramID int64
	Username   string
	Balance    int64
	Status     AccountStatus
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VoucherOffer is one redeemable offer from the catalog. Code is stored
// normalized (lowercase, no spaces). PromotionID, VoucherCode and Signature
// form the payload forwarded to the redemption vendor.
type VoucherOffer struct {
	ID          int64
	Code        string
	Title       string
	Price       int64
	Available   bool
	ComboKey    string
	PromotionID int64
	VoucherCode string
	Signature   string
	CreatedAt   time.Time
}

// TopupRecord is one credited payment notification. Rows are append-only;
// the unique TxID is what makes duplicate deliveries no-ops.
type TopupRecord struct {
	ID         int64
	TxID       string
	TelegramID int64
	Amount     int64
	Bonus      int64
	Source     string
	Memo       string
	CreatedAt  time.Time
}

// ActionLog mirrors the operator-facing audit trail: one row per
// activation, purchase, topup or ban.
type ActionLog struct {
	ID         int64
	TelegramID int64
	Username   string
	Action     string
	Value      string
	Note       string
	CreatedAt  time.Time
}

const (
	ActionActivate  = "ACTIVATE_GIFT"
	ActionAutoStart = "AUTO_ACTIVATE"
	ActionVoucher   = "VOUCHER"
	ActionCombo     = "COMBO"
	ActionTopup     = "TOPUP"
	ActionBan       = "BAN_APPLIED"
)
