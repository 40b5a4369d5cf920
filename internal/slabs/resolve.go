package slabs

import (
	"fmt"
	"sort"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

func (q FDQuery) validate() error {
	switch {
	case q.BranchID <= 0 || q.ProductID <= 0:
		return shared.Invalid("fd rate: branch and product required")
	case q.DepositDate.IsZero():
		return shared.Invalid("fd rate: deposit date required")
	case q.TenorDays <= 0:
		return shared.Invalid("fd rate: tenor must be positive")
	case q.AgeYears < 0:
		return shared.Invalid("fd rate: age cannot be negative")
	}
	return nil
}

func (q SavingQuery) validate() error {
	switch {
	case q.BranchID <= 0 || q.ProductID <= 0:
		return shared.Invalid("saving rate: branch and product required")
	case q.AsOfDate.IsZero():
		return shared.Invalid("saving rate: as-of date required")
	case q.Balance.Sign() < 0:
		return shared.Invalid("saving rate: balance cannot be negative")
	}
	return nil
}

// resolveFD walks version, tenor slab and age tier. Overlapping rows resolve to
// the lowest lower bound, ties broken by id.
func resolveFD(t FDTable, q FDQuery, maxAge int) (Quote, error) {
	date := shared.DateOf(q.DepositDate)

	var version *FDInterestSlabInfo
	for i := range t.Versions {
		v := &t.Versions[i]
		applicable := shared.DateOf(v.ApplicableDate)
		if applicable.After(date) {
			continue
		}
		if version == nil || applicable.After(shared.DateOf(version.ApplicableDate)) ||
			(applicable.Equal(shared.DateOf(version.ApplicableDate)) && v.ID > version.ID) {
			version = v
		}
	}
	if version == nil {
		return Quote{}, fmt.Errorf("%w: no fd version for product %d on %s",
			shared.ErrSlabNotFound, q.ProductID, date.Format("2006-01-02"))
	}

	tiers := make(map[int64][]FDInterestSlabDetail)
	for _, d := range t.Details {
		if d.SlabInfoID == version.ID {
			tiers[d.SlabID] = append(tiers[d.SlabID], d)
		}
	}

	candidates := make([]FDInterestSlab, 0, len(t.Slabs))
	for _, s := range t.Slabs {
		if len(tiers[s.ID]) == 0 {
			continue
		}
		if s.FromDays <= q.TenorDays && q.TenorDays <= s.ToDays {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Quote{}, fmt.Errorf("%w: no fd slab for tenor %d days", shared.ErrSlabNotFound, q.TenorDays)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FromDays != candidates[j].FromDays {
			return candidates[i].FromDays < candidates[j].FromDays
		}
		return candidates[i].ID < candidates[j].ID
	})
	slab := candidates[0]

	details := tiers[slab.ID]
	sort.Slice(details, func(i, j int) bool {
		if details[i].AgeFrom != details[j].AgeFrom {
			return details[i].AgeFrom < details[j].AgeFrom
		}
		return details[i].ID < details[j].ID
	})
	for _, d := range details {
		if q.AgeYears < d.AgeFrom {
			continue
		}
		if q.AgeYears < d.AgeTo || d.AgeTo >= maxAge {
			return Quote{
				Rate:                shared.RoundRate(d.InterestRate),
				SlabName:            slab.SlabName,
				VersionDate:         shared.DateOf(version.ApplicableDate),
				CompoundingInterval: slab.CompoundingInterval,
			}, nil
		}
	}
	return Quote{}, fmt.Errorf("%w: no age tier for %d years in slab %q", shared.ErrSlabNotFound, q.AgeYears, slab.SlabName)
}

func resolveSaving(t SavingTable, q SavingQuery) (Quote, error) {
	date := shared.DateOf(q.AsOfDate)

	var version *SavingInterestSlab
	for i := range t.Versions {
		v := &t.Versions[i]
		applicable := shared.DateOf(v.ApplicableDate)
		if applicable.After(date) {
			continue
		}
		if version == nil || applicable.After(shared.DateOf(version.ApplicableDate)) ||
			(applicable.Equal(shared.DateOf(version.ApplicableDate)) && v.ID > version.ID) {
			version = v
		}
	}
	if version == nil {
		return Quote{}, fmt.Errorf("%w: no saving version for product %d on %s",
			shared.ErrSlabNotFound, q.ProductID, date.Format("2006-01-02"))
	}

	details := make([]SavingInterestSlabDetail, 0, len(t.Details))
	for _, d := range t.Details {
		if d.SlabID == version.ID {
			details = append(details, d)
		}
	}
	sort.Slice(details, func(i, j int) bool {
		if c := details[i].FromAmount.Cmp(details[j].FromAmount); c != 0 {
			return c < 0
		}
		return details[i].ID < details[j].ID
	})
	for _, d := range details {
		if q.Balance.LessThan(d.FromAmount) {
			continue
		}
		if d.ToAmount == nil || q.Balance.LessThan(*d.ToAmount) {
			return Quote{
				Rate:        shared.RoundRate(d.InterestRate),
				SlabName:    version.SlabName,
				VersionDate: shared.DateOf(version.ApplicableDate),
			}, nil
		}
	}
	return Quote{}, fmt.Errorf("%w: no balance tier for %s", shared.ErrSlabNotFound, q.Balance.StringFixed(shared.AmountScale))
}
