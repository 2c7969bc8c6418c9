package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/daichoGoFramework/pkg/ledger"
)

// MemoryStore is an in-memory implementation of the ledger Store and catalog
// interfaces. Intended for tests, examples and local development; data does
// not survive a restart.
// 台帳Storeとカタログインターフェースのインメモリ実装。
// テスト・サンプル・ローカル開発用であり、データは再起動で失われる
type MemoryStore struct {
	mu sync.RWMutex

	entries    []ledger.MovementEntry
	balances   map[ledger.LedgerKey]*ledger.StockBalance
	sequences  map[string]int64
	items      map[string]*ledger.Item
	plans      map[string]*ledger.UnitPlan
	warehouses map[string]*ledger.Warehouse
	reasons    map[string]*ledger.ReasonCode
	nextID     int64
}

// NewMemoryStore creates a new empty in-memory store
// 新しい空のインメモリストアを作成
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:   make(map[ledger.LedgerKey]*ledger.StockBalance),
		sequences:  make(map[string]int64),
		items:      make(map[string]*ledger.Item),
		plans:      make(map[string]*ledger.UnitPlan),
		warehouses: make(map[string]*ledger.Warehouse),
		reasons:    make(map[string]*ledger.ReasonCode),
		nextID:     1,
	}
}

// AppendEntries commits one atomic batch under the store lock. Assumed
// balances are re-checked before any entry is written; a mismatch rejects
// the whole batch with no partial writes.
// ストアロック下でアトミックなバッチをコミットする。行を書き込む前に
// 想定残高を再検証し、不一致の場合は部分書き込みなしでバッチ全体を拒否する
func (s *MemoryStore) AppendEntries(ctx context.Context, batch *ledger.AppendBatch) ([]ledger.MovementEntry, error) {
	if batch == nil || len(batch.Entries) == 0 {
		return nil, ledger.ErrEmptyDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, assumed := range batch.AssumedBalances {
		current := decimal.Zero
		if balance, ok := s.balances[key]; ok {
			current = balance.CurrentBalance
		}
		if !current.Equal(assumed) {
			return nil, ledger.NewConcurrencyError("append_entries", key,
				fmt.Sprintf("想定残高%sに対して保存残高は%sです", assumed.String(), current.String()))
		}
	}

	now := time.Now()
	committed := make([]ledger.MovementEntry, len(batch.Entries))

	for i, entry := range batch.Entries {
		key := entry.Key()
		current := decimal.Zero
		if balance, ok := s.balances[key]; ok {
			current = balance.CurrentBalance
		}

		entry.ID = s.nextID
		s.nextID++
		entry.DocumentRef = batch.DocumentRef
		entry.BalanceAfter = current.Add(entry.QuantityBase)

		s.entries = append(s.entries, entry)
		s.balances[key] = &ledger.StockBalance{
			ItemID:         key.ItemID,
			WarehouseID:    key.WarehouseID,
			CurrentBalance: entry.BalanceAfter,
			LastEntryID:    entry.ID,
			UpdatedAt:      now,
		}

		committed[i] = entry
	}

	return committed, nil
}

// ReadRange retrieves an item's movement entries ordered by ID ascending
// 商品の移動行を台帳ID昇順で取得
func (s *MemoryStore) ReadRange(ctx context.Context, itemID string, filter ledger.ReadFilter) ([]ledger.MovementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.MovementEntry
	for _, entry := range s.entries {
		if entry.ItemID != itemID || entry.ID <= filter.AfterID {
			continue
		}
		if filter.WarehouseID != nil && entry.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.From != nil && entry.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && entry.Timestamp.After(*filter.To) {
			continue
		}

		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}

	return result, nil
}

// CurrentBalance retrieves the materialized balance of one ledger key
// 台帳キーのマテリアライズド残高を取得
func (s *MemoryStore) CurrentBalance(ctx context.Context, itemID, warehouseID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[ledger.LedgerKey{ItemID: itemID, WarehouseID: warehouseID}]
	if !ok {
		return decimal.Zero, nil
	}
	return balance.CurrentBalance, nil
}

// Balances retrieves every per-warehouse balance of an item
// 商品の倉庫ごとの残高をすべて取得
func (s *MemoryStore) Balances(ctx context.Context, itemID string) ([]ledger.StockBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.StockBalance
	for _, balance := range s.balances {
		if balance.ItemID == itemID {
			result = append(result, *balance)
		}
	}
	return result, nil
}

// NextSequence atomically consumes the next number of a document series
// 伝票系列の次の番号をアトミックに消費
func (s *MemoryStore) NextSequence(ctx context.Context, series string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[series]++
	return s.sequences[series], nil
}

// PeekSequence returns the next number of a series without consuming it
// 伝票系列の次の番号を消費せずに返す
func (s *MemoryStore) PeekSequence(ctx context.Context, series string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sequences[series] + 1, nil
}

// GetItem retrieves an item by ID
// IDで商品を取得
func (s *MemoryStore) GetItem(ctx context.Context, itemID string) (*ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

// GetUnitPlan retrieves a unit plan by ID
// IDで単位プランを取得
func (s *MemoryStore) GetUnitPlan(ctx context.Context, planID string) (*ledger.UnitPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planID]
	if !ok {
		return nil, ledger.ErrPlanNotFound
	}
	copied := *plan
	copied.Details = append([]ledger.UnitDetail(nil), plan.Details...)
	return &copied, nil
}

// GetWarehouse retrieves a warehouse by ID
// IDで倉庫を取得
func (s *MemoryStore) GetWarehouse(ctx context.Context, warehouseID string) (*ledger.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	warehouse, ok := s.warehouses[warehouseID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	copied := *warehouse
	return &copied, nil
}

// GetReason retrieves a reason code by code
// コードで理由コードを取得
func (s *MemoryStore) GetReason(ctx context.Context, reasonID string) (*ledger.ReasonCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reason, ok := s.reasons[reasonID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	copied := *reason
	return &copied, nil
}

// PutItem registers an item in the catalog
// カタログに商品を登録
func (s *MemoryStore) PutItem(item *ledger.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items[item.ID] = &copied
}

// PutUnitPlan registers a unit plan in the catalog
// カタログに単位プランを登録
func (s *MemoryStore) PutUnitPlan(plan *ledger.UnitPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *plan
	copied.Details = append([]ledger.UnitDetail(nil), plan.Details...)
	s.plans[plan.ID] = &copied
}

// PutWarehouse registers a warehouse in the registry
// レジストリに倉庫を登録
func (s *MemoryStore) PutWarehouse(warehouse *ledger.Warehouse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *warehouse
	s.warehouses[warehouse.ID] = &copied
}

// PutReason registers a reason code in the catalog
// カタログに理由コードを登録
func (s *MemoryStore) PutReason(reason *ledger.ReasonCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *reason
	s.reasons[reason.Code] = &copied
}

// SeedBalance overwrites the materialized balance of one key without writing
// a ledger entry. This deliberately creates drift between the stored balance
// and the replayed history, matching what an unaudited opening-balance load
// produces in a real deployment.
// 台帳行を書かずにキーのマテリアライズド残高を上書きする。
// 保存残高と再生履歴の間に意図的な乖離を作るものであり、
// 実運用で監査されていない期首残高ロードが生むものと同じ状態を再現する
func (s *MemoryStore) SeedBalance(itemID, warehouseID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledger.LedgerKey{ItemID: itemID, WarehouseID: warehouseID}
	s.balances[key] = &ledger.StockBalance{
		ItemID:         itemID,
		WarehouseID:    warehouseID,
		CurrentBalance: balance,
		UpdatedAt:      time.Now(),
	}
}

// Ping always succeeds for the in-memory store
// インメモリストアでは常に成功
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
// インメモリストアでは何もしない
func (s *MemoryStore) Close() error {
	return nil
}

// コンパイル時のインターフェース実装チェック
var (
	_ ledger.Store             = (*MemoryStore)(nil)
	_ ledger.Catalog           = (*MemoryStore)(nil)
	_ ledger.WarehouseRegistry = (*MemoryStore)(nil)
	_ ledger.ReasonCatalog     = (*MemoryStore)(nil)
)
