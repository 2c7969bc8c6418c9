package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// KardexKPIs are the aggregate figures of one kardex view. All figures are
// in the base unit.
// カーデックスビューの集計値。すべて基本単位で表現される
type KardexKPIs struct {
	TotalIn        decimal.Decimal `json:"total_in"`        // 入庫合計（正の行の合計）
	TotalOut       decimal.Decimal `json:"total_out"`       // 出庫合計（負の行の絶対値合計）
	TotalPurchases decimal.Decimal `json:"total_purchases"` // 仕入による入庫合計
	TotalSales     decimal.Decimal `json:"total_sales"`     // 販売による出庫合計
	NetChange      decimal.Decimal `json:"net_change"`      // 期間内の純変動
}

// KardexResult is one item's movement history with running balances and KPIs.
// BalanceAfter is returned exactly as stored at posting time, never
// recomputed at read time.
// 商品の移動履歴と残高推移、集計値。BalanceAfterは記帳時点の保存値をそのまま返し、
// 照会時に再計算することはない
type KardexResult struct {
	ItemID    string          `json:"item_id"`
	Movements []MovementEntry `json:"movements"`
	KPIs      KardexKPIs      `json:"kpis"`
}

// WarehouseKardex is the kardex of one item within one warehouse
// 1倉庫内の商品カーデックス
type WarehouseKardex struct {
	WarehouseID string          `json:"warehouse_id"`
	Movements   []MovementEntry `json:"movements"`
	KPIs        KardexKPIs      `json:"kpis"`
}

// KardexService provides read-only movement history views over the ledger
// 台帳の読み取り専用移動履歴ビューを提供
type KardexService struct {
	store  Store
	logger *zap.Logger
}

// NewKardexService creates a new kardex service
// 新しいカーデックスサービスを作成
func NewKardexService(store Store, logger *zap.Logger) *KardexService {
	return &KardexService{
		store:  store,
		logger: logger,
	}
}

// Query returns an item's movements ordered by ledger ID ascending, filtered
// by warehouse and inclusive date range, with KPI aggregates over the
// filtered rows
// 商品の移動行を台帳ID昇順で返す。倉庫と日付範囲（両端含む）で絞り込み、
// 絞り込み後の行に対する集計値を付与する
func (s *KardexService) Query(ctx context.Context, itemID string, filter ReadFilter) (*KardexResult, error) {
	if err := ValidateItemID(itemID); err != nil {
		return nil, err
	}
	if filter.WarehouseID != nil {
		if err := ValidateWarehouseID(*filter.WarehouseID); err != nil {
			return nil, err
		}
	}

	movements, err := s.store.ReadRange(ctx, itemID, filter)
	if err != nil {
		return nil, NewLedgerError("read_range", "台帳の読み取りに失敗しました", err)
	}

	s.logger.Debug("カーデックス照会完了",
		zap.String("item_id", itemID),
		zap.Int("movements", len(movements)),
	)

	return &KardexResult{
		ItemID:    itemID,
		Movements: movements,
		KPIs:      computeKPIs(movements),
	}, nil
}

// QueryByWarehouse returns the item's kardex reshaped into per-warehouse
// groups, each with its own KPI aggregates. Group order follows first
// appearance in the ledger.
// 商品カーデックスを倉庫ごとのグループに再構成して返す。
// 各グループは独自の集計値を持ち、グループ順は台帳での初出順に従う
func (s *KardexService) QueryByWarehouse(ctx context.Context, itemID string, filter ReadFilter) ([]WarehouseKardex, error) {
	// 倉庫絞り込みは無視して全倉庫を対象にする
	filter.WarehouseID = nil

	result, err := s.Query(ctx, itemID, filter)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0)
	grouped := make(map[string][]MovementEntry)
	for _, movement := range result.Movements {
		if _, ok := grouped[movement.WarehouseID]; !ok {
			order = append(order, movement.WarehouseID)
		}
		grouped[movement.WarehouseID] = append(grouped[movement.WarehouseID], movement)
	}

	kardexes := make([]WarehouseKardex, 0, len(order))
	for _, warehouseID := range order {
		movements := grouped[warehouseID]
		kardexes = append(kardexes, WarehouseKardex{
			WarehouseID: warehouseID,
			Movements:   movements,
			KPIs:        computeKPIs(movements),
		})
	}

	return kardexes, nil
}

// computeKPIs folds KPI aggregates over a slice of movements
// 移動行のスライスから集計値を算出
func computeKPIs(movements []MovementEntry) KardexKPIs {
	kpis := KardexKPIs{
		TotalIn:        decimal.Zero,
		TotalOut:       decimal.Zero,
		TotalPurchases: decimal.Zero,
		TotalSales:     decimal.Zero,
		NetChange:      decimal.Zero,
	}

	for i := range movements {
		quantity := movements[i].QuantityBase
		if quantity.Sign() > 0 {
			kpis.TotalIn = kpis.TotalIn.Add(quantity)
		} else {
			kpis.TotalOut = kpis.TotalOut.Add(quantity.Abs())
		}

		switch movements[i].Kind {
		case MovementKindPurchase:
			kpis.TotalPurchases = kpis.TotalPurchases.Add(quantity)
		case MovementKindSale:
			kpis.TotalSales = kpis.TotalSales.Add(quantity.Abs())
		}

		kpis.NetChange = kpis.NetChange.Add(quantity)
	}

	return kpis
}
