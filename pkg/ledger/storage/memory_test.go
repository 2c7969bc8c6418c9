package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/nemonet1337/daichoGoFramework/pkg/ledger"
)

func entry(itemID, warehouseID string, quantity int64) ledger.MovementEntry {
	return ledger.MovementEntry{
		ItemID:       itemID,
		WarehouseID:  warehouseID,
		Timestamp:    time.Now(),
		Kind:         ledger.MovementKindAdjustmentIn,
		QuantityBase: decimal.NewFromInt(quantity),
		UnitCostBase: decimal.NewFromInt(10),
		Actor:        "tester",
	}
}

func batchFor(store *MemoryStore, documentRef string, entries ...ledger.MovementEntry) *ledger.AppendBatch {
	assumed := make(map[ledger.LedgerKey]decimal.Decimal)
	for i := range entries {
		key := entries[i].Key()
		if _, ok := assumed[key]; !ok {
			balance, _ := store.CurrentBalance(context.Background(), key.ItemID, key.WarehouseID)
			assumed[key] = balance
		}
	}
	return &ledger.AppendBatch{
		DocumentRef:     documentRef,
		CorrelationID:   ledger.NewCorrelationID(),
		Entries:         entries,
		AssumedBalances: assumed,
	}
}

// TestMemoryStore_AppendEntries は記帳と残高スナップショットのテスト
func TestMemoryStore_AppendEntries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	committed, err := store.AppendEntries(ctx, batchFor(store, "AJ-000001",
		entry("ITEM-A", "WH-01", 10),
		entry("ITEM-A", "WH-01", 5),
	))
	assert.NoError(t, err)
	assert.Len(t, committed, 2)

	// IDは単調増加、残高は行ごとに積み上がる
	assert.Equal(t, int64(1), committed[0].ID)
	assert.Equal(t, int64(2), committed[1].ID)
	assert.True(t, committed[0].BalanceAfter.Equal(decimal.NewFromInt(10)))
	assert.True(t, committed[1].BalanceAfter.Equal(decimal.NewFromInt(15)))

	balance, err := store.CurrentBalance(ctx, "ITEM-A", "WH-01")
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(15)))
}

// TestMemoryStore_StaleBalance は想定残高の不一致で全体が拒否されることのテスト
func TestMemoryStore_StaleBalance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.AppendEntries(ctx, batchFor(store, "AJ-000001", entry("ITEM-A", "WH-01", 10)))
	assert.NoError(t, err)

	// 古い残高(0)を想定したバッチは拒否される
	stale := &ledger.AppendBatch{
		DocumentRef:   "AJ-000002",
		CorrelationID: ledger.NewCorrelationID(),
		Entries:       []ledger.MovementEntry{entry("ITEM-A", "WH-01", 5)},
		AssumedBalances: map[ledger.LedgerKey]decimal.Decimal{
			{ItemID: "ITEM-A", WarehouseID: "WH-01"}: decimal.Zero,
		},
	}
	_, err = store.AppendEntries(ctx, stale)
	assert.ErrorIs(t, err, ledger.ErrStaleBalance)

	// 拒否されたバッチは何も書き込んでいない
	entries, err := store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestMemoryStore_ConcurrentSameKey は同一キーへの同時記帳で一方だけが成功することのテスト
func TestMemoryStore_ConcurrentSameKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// 両者が同じ残高0を観測してから同時にコミットを試みる
	first := batchFor(store, "AJ-000001", entry("ITEM-A", "WH-01", 10))
	second := batchFor(store, "AJ-000002", entry("ITEM-A", "WH-01", 7))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, batch := range []*ledger.AppendBatch{first, second} {
		wg.Add(1)
		go func(b *ledger.AppendBatch) {
			defer wg.Done()
			_, err := store.AppendEntries(ctx, b)
			results <- err
		}(batch)
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ledger.ErrStaleBalance)
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

// TestMemoryStore_ConcurrentDifferentKeys は別キーへの同時記帳が両方成功することのテスト
func TestMemoryStore_ConcurrentDifferentKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := batchFor(store, "AJ-000001", entry("ITEM-A", "WH-01", 10))
	second := batchFor(store, "AJ-000002", entry("ITEM-B", "WH-02", 7))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, batch := range []*ledger.AppendBatch{first, second} {
		wg.Add(1)
		go func(b *ledger.AppendBatch) {
			defer wg.Done()
			_, err := store.AppendEntries(ctx, b)
			results <- err
		}(batch)
	}
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
}

// TestMemoryStore_ReadRange は絞り込みと再開読み取りのテスト
func TestMemoryStore_ReadRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	batch := batchFor(store, "AJ-000001",
		entry("ITEM-A", "WH-01", 1),
		entry("ITEM-A", "WH-02", 2),
		entry("ITEM-B", "WH-01", 3),
	)
	_, err := store.AppendEntries(ctx, batch)
	assert.NoError(t, err)

	// 商品での絞り込み
	entries, err := store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Len(t, entries, 2)

	// 倉庫での絞り込み
	warehouseID := "WH-02"
	entries, err = store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{WarehouseID: &warehouseID})
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	// AfterIDからの再開
	entries, err = store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{AfterID: 1})
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ID)

	// Limitでのページング
	entries, err = store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{Limit: 1})
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestMemoryStore_Sequences は採番カウンターのテスト
func TestMemoryStore_Sequences(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	peeked, err := store.PeekSequence(ctx, "AJ")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), peeked)

	next, err := store.NextSequence(ctx, "AJ")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), next)

	next, err = store.NextSequence(ctx, "AJ")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), next)

	// 系列は独立
	next, err = store.NextSequence(ctx, "RC")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

// TestMemoryStore_SeedBalance は残高上書きが台帳行を作らないことのテスト
func TestMemoryStore_SeedBalance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SeedBalance("ITEM-A", "WH-01", decimal.NewFromInt(100))

	balance, err := store.CurrentBalance(ctx, "ITEM-A", "WH-01")
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))

	entries, err := store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

// TestMemoryStore_Catalog はカタログ照会のテスト
func TestMemoryStore_Catalog(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetItem(ctx, "NOSUCH")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = store.GetUnitPlan(ctx, "NOSUCH")
	assert.ErrorIs(t, err, ledger.ErrPlanNotFound)

	store.PutItem(&ledger.Item{ID: "ITEM-A", BaseUnit: "UND", Active: true})
	item, err := store.GetItem(ctx, "ITEM-A")
	assert.NoError(t, err)
	assert.Equal(t, "UND", item.BaseUnit)

	// 取得結果はコピーであり、書き換えてもストアに影響しない
	item.BaseUnit = "KG"
	again, err := store.GetItem(ctx, "ITEM-A")
	assert.NoError(t, err)
	assert.Equal(t, "UND", again.BaseUnit)
}
