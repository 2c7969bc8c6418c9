// Package ledger provides an append-only inventory movement ledger with
// unit-of-measure conversion and balance reconciliation
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementKind defines the kind of inventory movement
// 在庫移動の種別を定義
type MovementKind string

const (
	MovementKindPurchase       MovementKind = "purchase"                  // 仕入
	MovementKindSale           MovementKind = "sale"                      // 販売
	MovementKindAdjustmentIn   MovementKind = "adjustment_in"             // 入庫調整
	MovementKindAdjustmentOut  MovementKind = "adjustment_out"            // 出庫調整
	MovementKindTransferIn     MovementKind = "transfer_in"               // 移動入庫
	MovementKindTransferOut    MovementKind = "transfer_out"              // 移動出庫
	MovementKindReconciliation MovementKind = "reconciliation_correction" // 照合補正
)

// MovementEntry represents one immutable row of the movement ledger.
// Entries are append-only: corrections are new entries, never edits.
// 移動台帳の1行を表現。追記専用であり、訂正は編集ではなく新しい行として記録される
type MovementEntry struct {
	ID           int64           `json:"id" db:"id"`                       // 台帳ID（単調増加、不変）
	ItemID       string          `json:"item_id" db:"item_id"`             // 商品ID
	WarehouseID  string          `json:"warehouse_id" db:"warehouse_id"`   // 倉庫ID
	Timestamp    time.Time       `json:"timestamp" db:"ts"`                // 記帳日時
	Kind         MovementKind    `json:"kind" db:"kind"`                   // 移動種別
	DocumentRef  string          `json:"document_ref" db:"document_ref"`   // 伝票番号（例: AJ-000123）
	QuantityBase decimal.Decimal `json:"quantity_base" db:"quantity_base"` // 基本単位での数量（入庫は正、出庫は負）
	UnitCostBase decimal.Decimal `json:"unit_cost_base" db:"unit_cost_base"` // 記帳時点の基本単位あたり原価
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"` // この行適用後の残高スナップショット
	ReasonCode   *string         `json:"reason_code" db:"reason_code"`     // 理由コード（調整・補正では必須）
	Actor        string          `json:"actor" db:"actor"`                 // 操作ユーザー
	Note         string          `json:"note" db:"note"`                   // 備考
}

// LedgerKey identifies one balance series of the ledger
// 台帳の残高系列を識別するキー
type LedgerKey struct {
	ItemID      string `json:"item_id"`
	WarehouseID string `json:"warehouse_id"`
}

// Key returns the ledger key of an entry
// 行の台帳キーを返す
func (e *MovementEntry) Key() LedgerKey {
	return LedgerKey{ItemID: e.ItemID, WarehouseID: e.WarehouseID}
}

// IsInbound reports whether the entry increases stock
// 行が在庫を増やすかどうかを返す
func (e *MovementEntry) IsInbound() bool {
	return e.QuantityBase.Sign() > 0
}

// StockBalance is the materialized current balance per (item, warehouse).
// It is an optimization only: replaying all entries for the key must always
// reproduce CurrentBalance.
// (商品, 倉庫)ごとの現在残高のマテリアライズドビュー。
// 最適化のための存在であり、全行の再生で常に再現可能でなければならない
type StockBalance struct {
	ItemID         string          `json:"item_id" db:"item_id"`                 // 商品ID
	WarehouseID    string          `json:"warehouse_id" db:"warehouse_id"`       // 倉庫ID
	CurrentBalance decimal.Decimal `json:"current_balance" db:"current_balance"` // 基本単位での現在残高
	LastEntryID    int64           `json:"last_entry_id" db:"last_entry_id"`     // 最終反映行のID
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`           // 最終更新日時
}

// UnitDetail is one (unit, factor-to-base) pair of a unit plan
// 単位プランの1明細（単位と基本単位への換算係数）
type UnitDetail struct {
	UnitCode     string          `json:"unit_code" db:"unit_code"`           // 単位コード（例: UND, CAJA）
	FactorToBase decimal.Decimal `json:"factor_to_base" db:"factor_to_base"` // 基本単位への換算係数（正の有限小数）
}

// UnitPlan is a named table of presentation units and their conversion
// factors to the base unit. A plan is immutable once referenced by a posted
// movement; edits create a new plan version.
// 表示単位と基本単位への換算係数の名前付きテーブル。
// 記帳済み移動から参照された後は不変であり、変更は新しいバージョンとして作成する
type UnitPlan struct {
	ID          string       `json:"id" db:"id"`                   // プランID
	Description string       `json:"description" db:"description"` // 説明
	Details     []UnitDetail `json:"details"`                      // 単位明細（宣言順）
}

// Item is the slice of the external catalog the ledger core reads
// 台帳コアが参照する外部カタログ上の商品情報
type Item struct {
	ID          string          `json:"id" db:"id"`                     // 商品ID
	BaseUnit    string          `json:"base_unit" db:"base_unit"`       // 基本単位コード
	CurrentCost decimal.Decimal `json:"current_cost" db:"current_cost"` // 基本単位あたりの現在原価
	Active      bool            `json:"active" db:"active"`             // アクティブ状態
}

// Warehouse is the slice of the external registry the ledger core reads
// 台帳コアが参照する外部レジストリ上の倉庫情報
type Warehouse struct {
	ID     string `json:"id" db:"id"`         // 倉庫ID
	Code   string `json:"code" db:"code"`     // 倉庫コード
	Name   string `json:"name" db:"name"`     // 倉庫名
	Active bool   `json:"active" db:"active"` // アクティブ状態
}

// ReasonCode is a grouped catalog entry for adjustment reasons.
// The code is immutable once referenced by a posted entry.
// 調整理由のグループ化されたカタログ項目。記帳済み行から参照された後はコード不変
type ReasonCode struct {
	Group       string `json:"group" db:"reason_group"`      // 理由グループ
	Code        string `json:"code" db:"code"`               // 理由コード
	Description string `json:"description" db:"description"` // 説明
	Active      bool   `json:"active" db:"active"`           // アクティブ状態
}

// AdjustmentDirection defines whether an adjustment adds or removes stock
// 調整が在庫を増やすか減らすかを定義
type AdjustmentDirection string

const (
	AdjustmentDirectionIn  AdjustmentDirection = "in"  // 入庫調整
	AdjustmentDirectionOut AdjustmentDirection = "out" // 出庫調整
)

// AdjustmentLine is one line of an adjustment document, expressed in the
// unit the operator chose
// 調整伝票の1行。オペレーターが選択した単位で表現される
type AdjustmentLine struct {
	ItemID     string          `json:"item_id"`      // 商品ID
	UnitPlanID string          `json:"unit_plan_id"` // 単位プランID
	UnitCode   string          `json:"unit_code"`    // 選択単位コード
	Quantity   decimal.Decimal `json:"quantity"`     // 選択単位での数量（常に正、方向はヘッダーが持つ）
	UnitCost   decimal.Decimal `json:"unit_cost"`    // 選択単位あたり原価
}

// AdjustmentDocument is a manual stock adjustment: one header plus one or
// more lines, posted atomically as a batch of movement entries sharing one
// document_ref. Once posted it is immutable.
// 手動在庫調整伝票。ヘッダーと1行以上の明細から成り、
// 同一伝票番号を共有する移動行のバッチとしてアトミックに記帳される。記帳後は不変
type AdjustmentDocument struct {
	Date        time.Time           `json:"date"`         // 伝票日付
	Direction   AdjustmentDirection `json:"direction"`    // 調整方向
	ReasonID    string              `json:"reason_id"`    // 理由コード
	WarehouseID string              `json:"warehouse_id"` // 倉庫ID
	Note        string              `json:"note"`         // 備考
	Actor       string              `json:"actor"`        // 操作ユーザー
	Lines       []AdjustmentLine    `json:"lines"`        // 明細行
}

// DocumentNumber is a formatted per-series document number
// 系列ごとに採番された伝票番号
type DocumentNumber struct {
	Prefix string `json:"prefix"` // 系列プレフィックス（例: AJ）
	Number int64  `json:"number"` // 連番
	Length int    `json:"length"` // ゼロ埋め桁数
}

// PostedDocument is the result of a successfully posted adjustment
// 記帳に成功した調整の結果を表現
type PostedDocument struct {
	DocumentRef   string          `json:"document_ref"`   // 伝票番号
	CorrelationID string          `json:"correlation_id"` // 相関ID
	Entries       []MovementEntry `json:"entries"`        // 記帳された台帳行
	PostedAt      time.Time       `json:"posted_at"`      // 記帳日時
}

// ReconciliationReport compares the stored balance against a full-history
// replay of the ledger
// 保存残高と台帳全履歴の再生結果を比較するレポート
type ReconciliationReport struct {
	ItemID            string          `json:"item_id"`            // 商品ID
	WarehouseID       *string         `json:"warehouse_id"`       // 倉庫ID（nilの場合は全倉庫合算）
	StoredBalance     decimal.Decimal `json:"stored_balance"`     // 保存されている残高
	ComputedBalance   decimal.Decimal `json:"computed_balance"`   // 再生で計算された残高
	Difference        decimal.Decimal `json:"difference"`         // computed - stored
	EntriesConsidered int             `json:"entries_considered"` // 再生した行数
	GeneratedAt       time.Time       `json:"generated_at"`       // レポート生成日時
}

// InBalance reports whether the stored balance matches the replay
// 保存残高が再生結果と一致しているかを返す
func (r *ReconciliationReport) InBalance() bool {
	return r.Difference.IsZero()
}

// EntriesAppendedEvent is published after a batch of entries commits
// 行バッチのコミット後に発行されるイベント
type EntriesAppendedEvent struct {
	DocumentRef   string          `json:"document_ref"`
	CorrelationID string          `json:"correlation_id"`
	EntryIDs      []int64         `json:"entry_ids"`
	Keys          []LedgerKey     `json:"keys"`
	NetQuantity   decimal.Decimal `json:"net_quantity"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor"`
}

// CorrectionPostedEvent is published after a reconciliation correction commits
// 照合補正のコミット後に発行されるイベント
type CorrectionPostedEvent struct {
	DocumentRef     string          `json:"document_ref"`
	ItemID          string          `json:"item_id"`
	WarehouseID     string          `json:"warehouse_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	Difference      decimal.Decimal `json:"difference"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewCorrelationID generates a correlation ID for a posted document
// 記帳伝票用の相関IDを生成
func NewCorrelationID() string {
	return uuid.New().String()
}
