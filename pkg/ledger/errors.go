package ledger

import (
	"errors"
	"fmt"
)

// Common ledger errors
// 共通の台帳エラー定義

var (
	// ErrNotFound is returned when a referenced record doesn't exist
	// 参照されたレコードが存在しない場合のエラー
	ErrNotFound = errors.New("レコードが見つかりません")

	// ErrPlanNotFound is returned when a unit plan doesn't exist
	// 単位プランが存在しない場合のエラー
	ErrPlanNotFound = errors.New("単位プランが見つかりません")

	// ErrUnknownUnit is returned when a unit code is not listed in the plan
	// 単位コードがプランに含まれていない場合のエラー
	ErrUnknownUnit = errors.New("単位コードがプランに定義されていません")

	// ErrInvalidQuantity is returned when a quantity or factor is not a
	// positive finite decimal
	// 数量または換算係数が正の有限小数でない場合のエラー
	ErrInvalidQuantity = errors.New("数量が無効です")

	// ErrInvalidReason is returned when the reason code is missing or inactive
	// 理由コードが存在しないか非アクティブな場合のエラー
	ErrInvalidReason = errors.New("理由コードが無効です")

	// ErrInvalidWarehouse is returned when the warehouse is missing or inactive
	// 倉庫が存在しないか非アクティブな場合のエラー
	ErrInvalidWarehouse = errors.New("倉庫が無効です")

	// ErrUnitResolutionFailed is returned when an adjustment line cannot
	// resolve its chosen unit through the unit plan
	// 調整明細が選択単位をプランで解決できない場合のエラー
	ErrUnitResolutionFailed = errors.New("単位の解決に失敗しました")

	// ErrNonPositiveQuantity is returned when a line quantity is zero or
	// negative; direction is carried by the document header, not the sign
	// 明細数量が0以下の場合のエラー。方向は明細の符号ではなくヘッダーが持つ
	ErrNonPositiveQuantity = errors.New("数量は正の値である必要があります")

	// ErrStaleBalance is returned when the caller's assumed prior balance no
	// longer matches the stored balance; recoverable by re-validating and
	// retrying against the fresh balance
	// 呼び出し側が想定した残高が保存残高と一致しない場合のエラー。
	// 最新残高で再検証・再試行することで回復可能
	ErrStaleBalance = errors.New("残高が他の書き込みによって更新されています")

	// ErrEmptyDocument is returned when an adjustment has no lines
	// 調整伝票に明細がない場合のエラー
	ErrEmptyDocument = errors.New("調整伝票に明細がありません")

	// ErrReservedReason is returned when a manual adjustment uses the reason
	// code reserved for system reconciliation corrections
	// 手動調整がシステム照合補正用に予約された理由コードを使用した場合のエラー
	ErrReservedReason = errors.New("予約済みの理由コードは手動調整では使用できません")
)

// ValidationError represents a validation error with details. Line is the
// zero-based index of the offending adjustment line, or -1 for header fields.
// 詳細付きバリデーションエラーを表現。Lineは対象明細のインデックス（ヘッダーは-1）
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
	Line    int    `json:"line"`    // 対象明細行（ヘッダーは-1）
	Kind    error  `json:"-"`       // 対応するエラー種別
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("バリデーションエラー [明細%d:%s]: %s (値: %s)", e.Line, e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// LedgerError represents a storage layer failure. It is fatal for the
// current operation and never silently retried.
// ストレージ層の失敗を表現。該当操作にとって致命的であり、暗黙に再試行されない
type LedgerError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("台帳エラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("台帳エラー [%s]: %s", e.Operation, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// ConcurrencyError represents a concurrency-related rejection
// 同時実行関連の拒否を表現
type ConcurrencyError struct {
	Operation string    `json:"operation"` // 操作名
	Key       LedgerKey `json:"key"`       // 競合した台帳キー
	Message   string    `json:"message"`   // エラーメッセージ
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("同時実行エラー [%s:%s/%s]: %s", e.Operation, e.Key.ItemID, e.Key.WarehouseID, e.Message)
}

func (e *ConcurrencyError) Unwrap() error {
	return ErrStaleBalance
}

// NewValidationError creates a new header-level validation error
// ヘッダーレベルの新しいバリデーションエラーを作成
func NewValidationError(field, message, value string, kind error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Line:    -1,
		Kind:    kind,
	}
}

// NewLineValidationError creates a validation error bound to one line
// 特定明細に紐づくバリデーションエラーを作成
func NewLineValidationError(line int, field, message, value string, kind error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Line:    line,
		Kind:    kind,
	}
}

// NewLedgerError creates a new storage layer error
// 新しいストレージ層エラーを作成
func NewLedgerError(operation, message string, cause error) *LedgerError {
	return &LedgerError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewConcurrencyError creates a new concurrency error
// 新しい同時実行エラーを作成
func NewConcurrencyError(operation string, key LedgerKey, message string) *ConcurrencyError {
	return &ConcurrencyError{
		Operation: operation,
		Key:       key,
		Message:   message,
	}
}
