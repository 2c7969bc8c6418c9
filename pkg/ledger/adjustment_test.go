package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/nemonet1337/daichoGoFramework/pkg/ledger"
	"github.com/nemonet1337/daichoGoFramework/pkg/ledger/storage"
)

// newTestStore は標準的なカタログを登録したインメモリストアを作成
func newTestStore() *storage.MemoryStore {
	store := storage.NewMemoryStore()

	store.PutItem(&ledger.Item{
		ID:          "ITEM-A",
		BaseUnit:    "UND",
		CurrentCost: decimal.NewFromInt(10),
		Active:      true,
	})
	store.PutItem(&ledger.Item{
		ID:          "ITEM-B",
		BaseUnit:    "KG",
		CurrentCost: decimal.NewFromInt(5),
		Active:      true,
	})

	store.PutUnitPlan(&ledger.UnitPlan{
		ID:          "PLAN-A",
		Description: "個・箱プラン",
		Details: []ledger.UnitDetail{
			{UnitCode: "UND", FactorToBase: decimal.NewFromInt(1)},
			{UnitCode: "CAJA", FactorToBase: decimal.NewFromInt(12)},
		},
	})

	store.PutWarehouse(&ledger.Warehouse{ID: "WH-01", Code: "WH01", Name: "メイン倉庫", Active: true})
	store.PutWarehouse(&ledger.Warehouse{ID: "WH-02", Code: "WH02", Name: "サブ倉庫", Active: true})
	store.PutWarehouse(&ledger.Warehouse{ID: "WH-CLOSED", Code: "WHX", Name: "閉鎖倉庫", Active: false})

	store.PutReason(&ledger.ReasonCode{Group: "audit", Code: "COUNT", Description: "棚卸差異", Active: true})
	store.PutReason(&ledger.ReasonCode{Group: "loss", Code: "DAMAGE", Description: "破損", Active: true})
	store.PutReason(&ledger.ReasonCode{Group: "old", Code: "RETIRED", Description: "廃止済み", Active: false})
	store.PutReason(&ledger.ReasonCode{Group: "system", Code: "SYS-RECON", Description: "照合補正", Active: true})

	return store
}

func newTestBuilder(store *storage.MemoryStore) *ledger.AdjustmentBuilder {
	return ledger.NewAdjustmentBuilder(store, store, store, store, nil, zap.NewNop(), ledger.DefaultConfig())
}

func cajaDoc(quantity, unitCost decimal.Decimal) *ledger.AdjustmentDocument {
	return &ledger.AdjustmentDocument{
		Direction:   ledger.AdjustmentDirectionIn,
		ReasonID:    "COUNT",
		WarehouseID: "WH-01",
		Actor:       "tester",
		Lines: []ledger.AdjustmentLine{
			{
				ItemID:     "ITEM-A",
				UnitPlanID: "PLAN-A",
				UnitCode:   "CAJA",
				Quantity:   quantity,
				UnitCost:   unitCost,
			},
		},
	}
}

// TestBuildAndPost_UnitConversion は箱単位入庫の基本単位換算テスト
func TestBuildAndPost_UnitConversion(t *testing.T) {
	store := newTestStore()
	builder := newTestBuilder(store)
	ctx := context.Background()

	// 2箱（1箱=12個）、1箱120円
	posted, err := builder.BuildAndPost(ctx, cajaDoc(decimal.NewFromInt(2), decimal.NewFromInt(120)))
	assert.NoError(t, err)
	assert.Len(t, posted.Entries, 1)

	entry := posted.Entries[0]
	assert.True(t, entry.QuantityBase.Equal(decimal.NewFromInt(24)), "数量は24個のはず: %s", entry.QuantityBase.String())
	assert.True(t, entry.UnitCostBase.Equal(decimal.NewFromInt(10)), "原価は10円/個のはず: %s", entry.UnitCostBase.String())
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(24)))
	assert.Equal(t, ledger.MovementKindAdjustmentIn, entry.Kind)
	assert.Equal(t, "AJ-000001", posted.DocumentRef)
	assert.NotEmpty(t, posted.CorrelationID)

	// マテリアライズド残高も更新されている
	balance, err := store.CurrentBalance(ctx, "ITEM-A", "WH-01")
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(24)))
}

// TestBuildAndPost_OutDirection は出庫調整の符号テスト
func TestBuildAndPost_OutDirection(t *testing.T) {
	store := newTestStore()
	builder := newTestBuilder(store)
	ctx := context.Background()

	_, err := builder.BuildAndPost(ctx, cajaDoc(decimal.NewFromInt(2), decimal.NewFromInt(120)))
	assert.NoError(t, err)

	doc := cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120))
	doc.Direction = ledger.AdjustmentDirectionOut

	posted, err := builder.BuildAndPost(ctx, doc)
	assert.NoError(t, err)

	entry := posted.Entries[0]
	assert.True(t, entry.QuantityBase.Equal(decimal.NewFromInt(-12)), "出庫は負の数量: %s", entry.QuantityBase.String())
	assert.Equal(t, ledger.MovementKindAdjustmentOut, entry.Kind)
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(12)))
}

// TestBuildAndPost_NonPositiveQuantity は数量0以下の拒否テスト
func TestBuildAndPost_NonPositiveQuantity(t *testing.T) {
	store := newTestStore()
	builder := newTestBuilder(store)
	ctx := context.Background()

	for _, quantity := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-3)} {
		_, err := builder.BuildAndPost(ctx, cajaDoc(quantity, decimal.NewFromInt(120)))
		assert.ErrorIs(t, err, ledger.ErrNonPositiveQuantity)

		// エラーは対象明細の行番号を持つ
		var verr *ledger.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Equal(t, 0, verr.Line)
	}

	// 何も記帳されていない
	entries, err := store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

// TestBuildAndPost_ValidationOrder は検証順序（理由→倉庫→単位→数量）のテスト
func TestBuildAndPost_ValidationOrder(t *testing.T) {
	store := newTestStore()
	builder := newTestBuilder(store)
	ctx := context.Background()

	// 理由も倉庫も無効な場合は理由エラーが先に返る
	doc := cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120))
	doc.ReasonID = "NOSUCH"
	doc.WarehouseID = "WH-CLOSED"
	_, err := builder.BuildAndPost(ctx, doc)
	assert.ErrorIs(t, err, ledger.ErrInvalidReason)

	// 倉庫IDの形式が不正でも、非アクティブ理由のエラーが先に返る
	doc = cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120))
	doc.ReasonID = "RETIRED"
	doc.WarehouseID = "WH 01!"
	_, err = builder.BuildAndPost(ctx, doc)
	assert.ErrorIs(t, err, ledger.ErrInvalidReason)

	// 倉庫と単位が無効な場合は倉庫エラーが先
	doc = cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120))
	doc.WarehouseID = "WH-CLOSED"
	doc.Lines[0].UnitCode = "PALLET"
	_, err = builder.BuildAndPost(ctx, doc)
	assert.ErrorIs(t, err, ledger.ErrInvalidWarehouse)

	// 単位と数量が無効な場合は単位エラーが先
	doc = cajaDoc(decimal.Zero, decimal.NewFromInt(120))
	doc.Lines[0].UnitCode = "PALLET"
	_, err = builder.BuildAndPost(ctx, doc)
	assert.ErrorIs(t, err, ledger.ErrUnitResolutionFailed)
}

// TestBuildAndPost_InactiveReason は非アクティブ理由の拒否テスト
func TestBuildAndPost_InactiveReason(t *testing.T) {
	builder := newTestBuilder(newTestStore())

	doc := cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120))
	doc.ReasonID = "RETIRED"

	_, err := builder.BuildAndPost(context.Background(), doc)
	assert.ErrorIs(t, err, ledger.ErrInvalidReason)
}

// TestBuildAndPost_ReservedReason は予約理由コードの拒否テスト
func TestBuildAndPost_ReservedReason(t *testing.T) {
	builder := newTestBuilder(newTestStore())

	doc := cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120))
	doc.ReasonID = "SYS-RECON"

	_, err := builder.BuildAndPost(context.Background(), doc)
	assert.ErrorIs(t, err, ledger.ErrReservedReason)
}

// TestBuildAndPost_LineErrorReportsIndex は明細エラーが行番号を報告することのテスト
func TestBuildAndPost_LineErrorReportsIndex(t *testing.T) {
	store := newTestStore()
	builder := newTestBuilder(store)
	ctx := context.Background()

	doc := cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120))
	doc.Lines = append(doc.Lines, ledger.AdjustmentLine{
		ItemID:     "ITEM-A",
		UnitPlanID: "PLAN-A",
		UnitCode:   "PALLET", // プランに存在しない
		Quantity:   decimal.NewFromInt(1),
		UnitCost:   decimal.NewFromInt(50),
	})

	_, err := builder.BuildAndPost(ctx, doc)
	assert.ErrorIs(t, err, ledger.ErrUnitResolutionFailed)

	var verr *ledger.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Line)

	// バッチ全体が拒否され、1行目も記帳されていない
	entries, err := store.ReadRange(ctx, "ITEM-A", ledger.ReadFilter{})
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

// TestBuildAndPost_MultiLineAtomic は複数明細が1伝票で記帳されることのテスト
func TestBuildAndPost_MultiLineAtomic(t *testing.T) {
	store := newTestStore()
	builder := newTestBuilder(store)
	ctx := context.Background()

	doc := &ledger.AdjustmentDocument{
		Direction:   ledger.AdjustmentDirectionIn,
		ReasonID:    "COUNT",
		WarehouseID: "WH-01",
		Actor:       "tester",
		Lines: []ledger.AdjustmentLine{
			{ItemID: "ITEM-A", UnitPlanID: "PLAN-A", UnitCode: "CAJA", Quantity: decimal.NewFromInt(1), UnitCost: decimal.NewFromInt(120)},
			{ItemID: "ITEM-B", UnitCode: "KG", Quantity: decimal.NewFromInt(3), UnitCost: decimal.NewFromInt(5)},
		},
	}

	posted, err := builder.BuildAndPost(ctx, doc)
	assert.NoError(t, err)
	assert.Len(t, posted.Entries, 2)

	// 全行が同じ伝票番号を共有する
	for _, entry := range posted.Entries {
		assert.Equal(t, posted.DocumentRef, entry.DocumentRef)
	}

	// プランID未指定の明細は基本単位として解釈される
	assert.True(t, posted.Entries[1].QuantityBase.Equal(decimal.NewFromInt(3)))
}

// staleOnceStore は最初のAppendEntriesだけ残高競合で失敗するストア
type staleOnceStore struct {
	*storage.MemoryStore
	failed bool
}

func (s *staleOnceStore) AppendEntries(ctx context.Context, batch *ledger.AppendBatch) ([]ledger.MovementEntry, error) {
	if !s.failed {
		s.failed = true
		for key := range batch.AssumedBalances {
			return nil, ledger.NewConcurrencyError("append_entries", key, "競合テスト")
		}
	}
	return s.MemoryStore.AppendEntries(ctx, batch)
}

// TestBuildAndPost_StaleBalanceRetry は残高競合時に1回だけ再試行することのテスト
func TestBuildAndPost_StaleBalanceRetry(t *testing.T) {
	memory := newTestStore()
	store := &staleOnceStore{MemoryStore: memory}
	builder := ledger.NewAdjustmentBuilder(store, memory, memory, memory, nil, zap.NewNop(), ledger.DefaultConfig())
	ctx := context.Background()

	// 1回目は競合で失敗するが、自動再試行で成功する
	posted, err := builder.BuildAndPost(ctx, cajaDoc(decimal.NewFromInt(2), decimal.NewFromInt(120)))
	assert.NoError(t, err)
	assert.True(t, store.failed)
	assert.True(t, posted.Entries[0].QuantityBase.Equal(decimal.NewFromInt(24)))
}

// staleAlwaysStore は常に残高競合で失敗するストア
type staleAlwaysStore struct {
	*storage.MemoryStore
	attempts int
}

func (s *staleAlwaysStore) AppendEntries(ctx context.Context, batch *ledger.AppendBatch) ([]ledger.MovementEntry, error) {
	s.attempts++
	for key := range batch.AssumedBalances {
		return nil, ledger.NewConcurrencyError("append_entries", key, "競合テスト")
	}
	return nil, ledger.ErrStaleBalance
}

// TestBuildAndPost_StaleBalanceSurfaces は再試行後も競合が続く場合にエラーを返すことのテスト
func TestBuildAndPost_StaleBalanceSurfaces(t *testing.T) {
	memory := newTestStore()
	store := &staleAlwaysStore{MemoryStore: memory}
	builder := ledger.NewAdjustmentBuilder(store, memory, memory, memory, nil, zap.NewNop(), ledger.DefaultConfig())

	_, err := builder.BuildAndPost(context.Background(), cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120)))
	assert.ErrorIs(t, err, ledger.ErrStaleBalance)
	assert.Equal(t, 2, store.attempts, "再試行は1回だけのはず")
}

// TestBuildAndPost_EmptyDocument は明細なし伝票の拒否テスト
func TestBuildAndPost_EmptyDocument(t *testing.T) {
	builder := newTestBuilder(newTestStore())

	doc := &ledger.AdjustmentDocument{
		Direction:   ledger.AdjustmentDirectionIn,
		ReasonID:    "COUNT",
		WarehouseID: "WH-01",
		Actor:       "tester",
	}

	_, err := builder.BuildAndPost(context.Background(), doc)
	assert.ErrorIs(t, err, ledger.ErrEmptyDocument)
}

// TestPeekNextDocumentRef は伝票番号プレビューが番号を消費しないことのテスト
func TestPeekNextDocumentRef(t *testing.T) {
	store := newTestStore()
	builder := newTestBuilder(store)
	ctx := context.Background()

	ref, err := builder.PeekNextDocumentRef(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "AJ-000001", ref)

	posted, err := builder.BuildAndPost(ctx, cajaDoc(decimal.NewFromInt(1), decimal.NewFromInt(120)))
	assert.NoError(t, err)
	assert.Equal(t, "AJ-000001", posted.DocumentRef)
}
