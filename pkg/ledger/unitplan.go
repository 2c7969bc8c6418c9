package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UnitPlanResolver resolves named conversion plans and converts quantities
// between presentation units and the base unit. All arithmetic is exact
// decimal arithmetic; binary floating point is never used, so repeated
// conversions cannot accumulate rounding drift.
// 単位プランを解決し、表示単位と基本単位の間で数量を変換する。
// すべての演算は正確な十進演算で行い、二進浮動小数点は使用しない
type UnitPlanResolver struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewUnitPlanResolver creates a new unit plan resolver
// 新しい単位プランリゾルバーを作成
func NewUnitPlanResolver(catalog Catalog, logger *zap.Logger) *UnitPlanResolver {
	return &UnitPlanResolver{
		catalog: catalog,
		logger:  logger,
	}
}

// Resolve resolves a plan ID into a validated unit plan
// プランIDを検証済み単位プランに解決
func (r *UnitPlanResolver) Resolve(ctx context.Context, planID string) (*UnitPlan, error) {
	plan, err := r.catalog.GetUnitPlan(ctx, planID)
	if err != nil {
		if err == ErrNotFound || err == ErrPlanNotFound {
			return nil, ErrPlanNotFound
		}
		return nil, NewLedgerError("get_unit_plan", "単位プラン取得に失敗しました", err)
	}

	if err := ValidateUnitPlan(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// FactorOf returns the factor-to-base of a unit code within the plan
// プラン内の単位コードの基本単位換算係数を返す
func (p *UnitPlan) FactorOf(unitCode string) (decimal.Decimal, error) {
	for _, detail := range p.Details {
		if detail.UnitCode == unitCode {
			return detail.FactorToBase, nil
		}
	}
	return decimal.Zero, ErrUnknownUnit
}

// ConvertToBase converts a quantity expressed in unitCode into the base
// unit. Multiplication by a rational factor is exact.
// unitCodeで表現された数量を基本単位に変換。有理数係数との乗算は正確
func ConvertToBase(plan *UnitPlan, unitCode string, quantity decimal.Decimal) (decimal.Decimal, error) {
	factor, err := plan.FactorOf(unitCode)
	if err != nil {
		return decimal.Zero, err
	}

	if factor.Sign() <= 0 {
		return decimal.Zero, ErrInvalidQuantity
	}

	return quantity.Mul(factor), nil
}

// UnitCostToBase converts a per-chosen-unit cost into a per-base-unit cost
// so that quantity_base * unit_cost_base reproduces the line's economic
// value. Division precision follows shopspring defaults (16 digits), which
// is the documented tolerance for non-terminating factors.
// 選択単位あたり原価を基本単位あたり原価に変換。
// quantity_base * unit_cost_base が明細の経済価値を再現する
func UnitCostToBase(plan *UnitPlan, unitCode string, unitCost decimal.Decimal) (decimal.Decimal, error) {
	factor, err := plan.FactorOf(unitCode)
	if err != nil {
		return decimal.Zero, err
	}

	if factor.Sign() <= 0 {
		return decimal.Zero, ErrInvalidQuantity
	}

	return unitCost.Div(factor), nil
}

// DefaultUnit returns the unit an adjustment line should default to: the
// preferred unit if the plan lists it, else the plan's first declared unit,
// else the item's base unit
// 調整明細のデフォルト単位を返す。優先単位がプランにあればそれを、
// なければプランの先頭単位を、プランが空なら商品の基本単位を返す
func DefaultUnit(plan *UnitPlan, preferredUnitCode, baseUnit string) string {
	if plan != nil {
		for _, detail := range plan.Details {
			if detail.UnitCode == preferredUnitCode {
				return preferredUnitCode
			}
		}
		if len(plan.Details) > 0 {
			return plan.Details[0].UnitCode
		}
	}
	return baseUnit
}

// BaseUnitPlan builds a single-unit identity plan for quantities already
// expressed in the base unit (used by reconciliation corrections)
// 既に基本単位で表現された数量のための恒等プランを作成（照合補正で使用）
func BaseUnitPlan(baseUnit string) *UnitPlan {
	return &UnitPlan{
		ID:          "base:" + baseUnit,
		Description: "基本単位プラン",
		Details: []UnitDetail{
			{UnitCode: baseUnit, FactorToBase: decimal.NewFromInt(1)},
		},
	}
}
