package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/nemonet1337/daichoGoFramework/pkg/ledger"
	"github.com/nemonet1337/daichoGoFramework/pkg/ledger/storage"
)

// seedKardexHistory は入出庫の混ざった履歴を作る
func seedKardexHistory(t *testing.T, store *storage.MemoryStore) {
	t.Helper()
	builder := newTestBuilder(store)
	ctx := context.Background()

	post := func(direction ledger.AdjustmentDirection, warehouseID string, quantity int64) {
		doc := &ledger.AdjustmentDocument{
			Direction:   direction,
			ReasonID:    "COUNT",
			WarehouseID: warehouseID,
			Actor:       "tester",
			Lines: []ledger.AdjustmentLine{
				{ItemID: "ITEM-A", UnitCode: "UND", Quantity: decimal.NewFromInt(quantity), UnitCost: decimal.NewFromInt(10)},
			},
		}
		_, err := builder.BuildAndPost(ctx, doc)
		assert.NoError(t, err)
	}

	post(ledger.AdjustmentDirectionIn, "WH-01", 30)
	post(ledger.AdjustmentDirectionOut, "WH-01", 5)
	post(ledger.AdjustmentDirectionIn, "WH-02", 8)
}

// TestKardexQuery はカーデックス照会と集計値のテスト
func TestKardexQuery(t *testing.T) {
	store := newTestStore()
	seedKardexHistory(t, store)
	kardex := ledger.NewKardexService(store, zap.NewNop())
	ctx := context.Background()

	result, err := kardex.Query(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Len(t, result.Movements, 3)

	assert.True(t, result.KPIs.TotalIn.Equal(decimal.NewFromInt(38)))
	assert.True(t, result.KPIs.TotalOut.Equal(decimal.NewFromInt(5)))
	assert.True(t, result.KPIs.NetChange.Equal(decimal.NewFromInt(33)))

	// 移動行は台帳ID昇順
	for i := 1; i < len(result.Movements); i++ {
		assert.Greater(t, result.Movements[i].ID, result.Movements[i-1].ID)
	}
}

// TestKardexQuery_BalanceAfterIsStored は残高推移が記帳時の保存値であることのテスト
func TestKardexQuery_BalanceAfterIsStored(t *testing.T) {
	store := newTestStore()
	seedKardexHistory(t, store)
	kardex := ledger.NewKardexService(store, zap.NewNop())
	ctx := context.Background()

	warehouseID := "WH-01"
	result, err := kardex.Query(ctx, "ITEM-A", ledger.ReadFilter{WarehouseID: &warehouseID})
	assert.NoError(t, err)
	assert.Len(t, result.Movements, 2)

	assert.True(t, result.Movements[0].BalanceAfter.Equal(decimal.NewFromInt(30)))
	assert.True(t, result.Movements[1].BalanceAfter.Equal(decimal.NewFromInt(25)))
}

// TestKardexQuery_WarehouseFilter は倉庫絞り込みのテスト
func TestKardexQuery_WarehouseFilter(t *testing.T) {
	store := newTestStore()
	seedKardexHistory(t, store)
	kardex := ledger.NewKardexService(store, zap.NewNop())
	ctx := context.Background()

	warehouseID := "WH-02"
	result, err := kardex.Query(ctx, "ITEM-A", ledger.ReadFilter{WarehouseID: &warehouseID})
	assert.NoError(t, err)
	assert.Len(t, result.Movements, 1)
	assert.True(t, result.KPIs.NetChange.Equal(decimal.NewFromInt(8)))
}

// TestKardexQueryByWarehouse は倉庫別グループ化のテスト
func TestKardexQueryByWarehouse(t *testing.T) {
	store := newTestStore()
	seedKardexHistory(t, store)
	kardex := ledger.NewKardexService(store, zap.NewNop())
	ctx := context.Background()

	groups, err := kardex.QueryByWarehouse(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Len(t, groups, 2)

	// グループ順は台帳での初出順
	assert.Equal(t, "WH-01", groups[0].WarehouseID)
	assert.Equal(t, "WH-02", groups[1].WarehouseID)

	assert.Len(t, groups[0].Movements, 2)
	assert.True(t, groups[0].KPIs.NetChange.Equal(decimal.NewFromInt(25)))
	assert.Len(t, groups[1].Movements, 1)
	assert.True(t, groups[1].KPIs.NetChange.Equal(decimal.NewFromInt(8)))
}

// TestKardexQuery_PurchaseAndSaleKPIs は仕入・販売を含む履歴の集計値テスト。
// 仕入・販売行はビルダーを通らず、外部の記帳経路からストアに直接書き込まれる
func TestKardexQuery_PurchaseAndSaleKPIs(t *testing.T) {
	store := newTestStore()
	kardex := ledger.NewKardexService(store, zap.NewNop())
	ctx := context.Background()

	write := func(kind ledger.MovementKind, documentRef string, quantity int64) {
		key := ledger.LedgerKey{ItemID: "ITEM-A", WarehouseID: "WH-01"}
		balance, err := store.CurrentBalance(ctx, key.ItemID, key.WarehouseID)
		assert.NoError(t, err)

		_, err = store.AppendEntries(ctx, &ledger.AppendBatch{
			DocumentRef:   documentRef,
			CorrelationID: ledger.NewCorrelationID(),
			Entries: []ledger.MovementEntry{
				{
					ItemID:       key.ItemID,
					WarehouseID:  key.WarehouseID,
					Timestamp:    time.Now(),
					Kind:         kind,
					QuantityBase: decimal.NewFromInt(quantity),
					UnitCostBase: decimal.NewFromInt(10),
					Actor:        "tester",
				},
			},
			AssumedBalances: map[ledger.LedgerKey]decimal.Decimal{key: balance},
		})
		assert.NoError(t, err)
	}

	write(ledger.MovementKindPurchase, "PO-000001", 20)
	write(ledger.MovementKindSale, "SO-000001", -8)
	write(ledger.MovementKindAdjustmentIn, "AJ-000001", 3)

	result, err := kardex.Query(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Len(t, result.Movements, 3)

	assert.True(t, result.KPIs.TotalIn.Equal(decimal.NewFromInt(23)), "入庫合計: %s", result.KPIs.TotalIn.String())
	assert.True(t, result.KPIs.TotalOut.Equal(decimal.NewFromInt(8)), "出庫合計: %s", result.KPIs.TotalOut.String())
	assert.True(t, result.KPIs.TotalPurchases.Equal(decimal.NewFromInt(20)), "仕入合計: %s", result.KPIs.TotalPurchases.String())
	assert.True(t, result.KPIs.TotalSales.Equal(decimal.NewFromInt(8)), "販売合計: %s", result.KPIs.TotalSales.String())
	assert.True(t, result.KPIs.NetChange.Equal(decimal.NewFromInt(15)), "純変動: %s", result.KPIs.NetChange.String())
}

// TestKardexQuery_Empty は履歴のない商品の照会テスト
func TestKardexQuery_Empty(t *testing.T) {
	store := newTestStore()
	kardex := ledger.NewKardexService(store, zap.NewNop())

	result, err := kardex.Query(context.Background(), "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Empty(t, result.Movements)
	assert.True(t, result.KPIs.NetChange.IsZero())
}
