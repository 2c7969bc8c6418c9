package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AppendBatch is one atomic unit of ledger writes. All entries commit or
// none do. AssumedBalances carries, per ledger key, the prior balance the
// caller captured at validation time; the store re-checks it at commit time
// and rejects the whole batch with ErrStaleBalance on any mismatch.
// アトミックな台帳書き込み単位。全行がコミットされるか、全く記帳されないかのいずれか。
// AssumedBalancesは検証時点で呼び出し側が取得した残高であり、
// コミット時に再検証され、不一致があればErrStaleBalanceでバッチ全体が拒否される
type AppendBatch struct {
	DocumentRef     string                        // 共有伝票番号
	CorrelationID   string                        // 相関ID
	Entries         []MovementEntry               // 記帳する行（ID, BalanceAfterはストアが採番・計算）
	AssumedBalances map[LedgerKey]decimal.Decimal // キーごとの想定残高
}

// ReadFilter narrows a ledger range read. AfterID makes the read
// restartable: pass the last seen entry ID to resume.
// 台帳範囲読み取りの絞り込み条件。AfterIDにより読み取りを再開可能にする
type ReadFilter struct {
	WarehouseID *string    // 倉庫ID（nilの場合は全倉庫）
	From        *time.Time // 期間開始（含む）
	To          *time.Time // 期間終了（含む）
	AfterID     int64      // このIDより後の行から再開
	Limit       int        // 最大取得行数（0は無制限）
}

// Store defines the persistence contract of the movement ledger
// 移動台帳の永続化コントラクトを定義
type Store interface {
	// Ledger writes
	AppendEntries(ctx context.Context, batch *AppendBatch) ([]MovementEntry, error)

	// Ledger reads: entries ordered by ID ascending
	ReadRange(ctx context.Context, itemID string, filter ReadFilter) ([]MovementEntry, error)
	CurrentBalance(ctx context.Context, itemID, warehouseID string) (decimal.Decimal, error)
	Balances(ctx context.Context, itemID string) ([]StockBalance, error)

	// Document numbering: NextSequence atomically consumes a number,
	// PeekSequence returns the next number without reserving it
	NextSequence(ctx context.Context, series string) (int64, error)
	PeekSequence(ctx context.Context, series string) (int64, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Catalog supplies item and unit plan data. Owned by an external
// collaborator; the ledger core only reads.
// 商品と単位プランを供給する外部カタログ。台帳コアは読み取りのみ行う
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*Item, error)
	GetUnitPlan(ctx context.Context, planID string) (*UnitPlan, error)
}

// WarehouseRegistry supplies warehouse data. Owned externally.
// 倉庫情報を供給する外部レジストリ
type WarehouseRegistry interface {
	GetWarehouse(ctx context.Context, warehouseID string) (*Warehouse, error)
}

// ReasonCatalog supplies adjustment reason codes. Owned externally.
// 調整理由コードを供給する外部カタログ
type ReasonCatalog interface {
	GetReason(ctx context.Context, reasonID string) (*ReasonCode, error)
}

// EntryPublisher defines the optional event hook for committed ledger writes
// コミットされた台帳書き込みに対する任意のイベントフックを定義
type EntryPublisher interface {
	PublishEntriesAppended(ctx context.Context, event EntriesAppendedEvent) error
	PublishCorrectionPosted(ctx context.Context, event CorrectionPostedEvent) error
}
