package models

// BillingCategory classifies a student's billing-period row by what the
// period contains and how much of it is settled.
type BillingCategory string

const (
	// BillingCategoryPendingOnly marks rows holding only pending sessions.
	BillingCategoryPendingOnly BillingCategory = "PENDING_ONLY"
	// BillingCategoryPaid marks fully settled rows with nothing scheduled.
	BillingCategoryPaid BillingCategory = "PAID"
	// BillingCategoryUnpaid marks rows with at least one unpaid completed
	// session.
	BillingCategoryUnpaid BillingCategory = "UNPAID"
	// BillingCategoryMixed marks every other combination, typically settled
	// history alongside scheduled future work.
	BillingCategoryMixed BillingCategory = "MIXED"
)

// CoarsePayment is a ledger entry from the predecessor design, keyed by
// student and period label instead of session identity.
type CoarsePayment struct {
	Student string `json:"student"`
	Period  string `json:"period"`
	Paid    bool   `json:"paid"`
}
