// Package slabs resolves interest rates from effective-dated, tiered rate tables.
package slabs

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/rules"
)

// DefaultMaxAgeSentinel marks an FD age tier whose upper bound is open.
const DefaultMaxAgeSentinel = 999

// FDInterestSlabInfo is one effective-dated version of an FD rate table.
type FDInterestSlabInfo struct {
	ID             int64     `json:"id"`
	BranchID       int64     `json:"branch_id"`
	ProductID      int64     `json:"fd_product_id"`
	ApplicableDate time.Time `json:"applicable_date"`
}

// FDInterestSlab is a tenor bucket, inclusive on both ends.
type FDInterestSlab struct {
	ID                  int64                     `json:"id"`
	BranchID            int64                     `json:"branch_id"`
	ProductID           int64                     `json:"fd_product_id"`
	SlabName            string                    `json:"slab_name"`
	FromDays            int                       `json:"from_days"`
	ToDays              int                       `json:"to_days"`
	CompoundingInterval rules.CompoundingInterval `json:"compounding_interval"`
}

// FDInterestSlabDetail is an age tier [AgeFrom, AgeTo) inside a slab and version.
type FDInterestSlabDetail struct {
	ID           int64           `json:"id"`
	BranchID     int64           `json:"branch_id"`
	SlabID       int64           `json:"fd_slab_id"`
	SlabInfoID   int64           `json:"fd_slab_info_id"`
	AgeFrom      int             `json:"age_from"`
	AgeTo        int             `json:"age_to"`
	InterestRate decimal.Decimal `json:"interest_rate"`
}

// SavingInterestSlab is one effective-dated version of a savings rate table.
type SavingInterestSlab struct {
	ID             int64     `json:"id"`
	BranchID       int64     `json:"branch_id"`
	ProductID      int64     `json:"saving_product_id"`
	SlabName       string    `json:"slab_name"`
	ApplicableDate time.Time `json:"applicable_date"`
}

// SavingInterestSlabDetail is a balance tier [FromAmount, ToAmount). A nil ToAmount is open ended.
type SavingInterestSlabDetail struct {
	ID           int64            `json:"id"`
	BranchID     int64            `json:"branch_id"`
	SlabID       int64            `json:"saving_slab_id"`
	FromAmount   decimal.Decimal  `json:"from_amount"`
	ToAmount     *decimal.Decimal `json:"to_amount,omitempty"`
	InterestRate decimal.Decimal  `json:"interest_rate"`
}

// FDTable is the full FD rate state for one branch and product.
type FDTable struct {
	Versions []FDInterestSlabInfo
	Slabs    []FDInterestSlab
	Details  []FDInterestSlabDetail
}

// SavingTable is the full savings rate state for one branch and product.
type SavingTable struct {
	Versions []SavingInterestSlab
	Details  []SavingInterestSlabDetail
}

// FDQuery identifies an FD rate lookup.
type FDQuery struct {
	BranchID    int64
	ProductID   int64
	DepositDate time.Time
	TenorDays   int
	AgeYears    int
}

// SavingQuery identifies a savings rate lookup.
type SavingQuery struct {
	BranchID  int64
	ProductID int64
	AsOfDate  time.Time
	Balance   decimal.Decimal
}

// Quote is a resolved rate with the table metadata behind it.
type Quote struct {
	Rate                decimal.Decimal           `json:"rate"`
	SlabName            string                    `json:"slab_name"`
	VersionDate         time.Time                 `json:"version_date"`
	CompoundingInterval rules.CompoundingInterval `json:"compounding_interval"`
	CalculationMethod   rules.CalculationMethod   `json:"calculation_method,omitempty"`
}
