package slabs

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// PgRepository reads rate tables from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// LoadFDTable reads every version, slab and tier for one FD product in a single snapshot.
func (r *PgRepository) LoadFDTable(ctx context.Context, branchID, productID int64) (FDTable, error) {
	var table FDTable
	err := r.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, branch_id, fd_product_id, applicable_date
FROM fd_interest_slab_info WHERE branch_id = $1 AND fd_product_id = $2
ORDER BY applicable_date, id`, branchID, productID)
		if err != nil {
			return err
		}
		table.Versions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (FDInterestSlabInfo, error) {
			var v FDInterestSlabInfo
			err := row.Scan(&v.ID, &v.BranchID, &v.ProductID, &v.ApplicableDate)
			return v, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT id, branch_id, fd_product_id, slab_name, from_days, to_days, compounding_interval
FROM fd_interest_slab WHERE branch_id = $1 AND fd_product_id = $2
ORDER BY from_days, id`, branchID, productID)
		if err != nil {
			return err
		}
		table.Slabs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (FDInterestSlab, error) {
			var s FDInterestSlab
			err := row.Scan(&s.ID, &s.BranchID, &s.ProductID, &s.SlabName, &s.FromDays, &s.ToDays, &s.CompoundingInterval)
			return s, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT d.id, d.branch_id, d.fd_slab_id, d.fd_slab_info_id, d.age_from, d.age_to, d.interest_rate
FROM fd_interest_slab_detail d
JOIN fd_interest_slab s ON s.id = d.fd_slab_id AND s.branch_id = d.branch_id
WHERE d.branch_id = $1 AND s.fd_product_id = $2
ORDER BY d.age_from, d.id`, branchID, productID)
		if err != nil {
			return err
		}
		table.Details, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (FDInterestSlabDetail, error) {
			var d FDInterestSlabDetail
			err := row.Scan(&d.ID, &d.BranchID, &d.SlabID, &d.SlabInfoID, &d.AgeFrom, &d.AgeTo, &d.InterestRate)
			return d, err
		})
		return err
	})
	return table, shared.WrapStorage("load fd slabs", err)
}

// LoadSavingTable reads every version and tier for one savings product in a single snapshot.
func (r *PgRepository) LoadSavingTable(ctx context.Context, branchID, productID int64) (SavingTable, error) {
	var table SavingTable
	err := r.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, branch_id, saving_product_id, slab_name, applicable_date
FROM saving_interest_slab WHERE branch_id = $1 AND saving_product_id = $2
ORDER BY applicable_date, id`, branchID, productID)
		if err != nil {
			return err
		}
		table.Versions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (SavingInterestSlab, error) {
			var v SavingInterestSlab
			err := row.Scan(&v.ID, &v.BranchID, &v.ProductID, &v.SlabName, &v.ApplicableDate)
			return v, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT d.id, d.branch_id, d.saving_slab_id, d.from_amount, d.to_amount, d.interest_rate
FROM saving_interest_slab_detail d
JOIN saving_interest_slab s ON s.id = d.saving_slab_id AND s.branch_id = d.branch_id
WHERE d.branch_id = $1 AND s.saving_product_id = $2
ORDER BY d.from_amount, d.id`, branchID, productID)
		if err != nil {
			return err
		}
		table.Details, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (SavingInterestSlabDetail, error) {
			var d SavingInterestSlabDetail
			err := row.Scan(&d.ID, &d.BranchID, &d.SlabID, &d.FromAmount, &d.ToAmount, &d.InterestRate)
			return d, err
		})
		return err
	})
	return table, shared.WrapStorage("load saving slabs", err)
}

func (r *PgRepository) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.ReadOnly(ctx, r.pool, fn)
}
