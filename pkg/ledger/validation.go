package ledger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// 識別子に許可する文字: 英数字、ハイフン、アンダースコア
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// 単位コードに許可する文字: 英数字とドット
var unitCodePattern = regexp.MustCompile(`^[a-zA-Z0-9.]+$`)

// 系列コードに許可する文字: 大文字英字のみ
var seriesCodePattern = regexp.MustCompile(`^[A-Z]{1,8}$`)

// 数量・原価の有効範囲上限
var maxDecimalValue = decimal.RequireFromString("999999999999.999999")

// ValidateItemID 商品IDの形式をバリデーション
func ValidateItemID(itemID string) error {
	if itemID == "" {
		return NewValidationError("item_id", "商品IDが空です", itemID, ErrNotFound)
	}
	if len(itemID) > 255 {
		return NewValidationError("item_id", "商品IDが長すぎます", itemID, ErrNotFound)
	}
	if !identifierPattern.MatchString(itemID) {
		return NewValidationError("item_id", "商品IDに無効な文字が含まれています", itemID, ErrNotFound)
	}
	return nil
}

// ValidateWarehouseID 倉庫IDの形式をバリデーション
func ValidateWarehouseID(warehouseID string) error {
	if warehouseID == "" {
		return NewValidationError("warehouse_id", "倉庫IDが空です", warehouseID, ErrInvalidWarehouse)
	}
	if len(warehouseID) > 255 {
		return NewValidationError("warehouse_id", "倉庫IDが長すぎます", warehouseID, ErrInvalidWarehouse)
	}
	if !identifierPattern.MatchString(warehouseID) {
		return NewValidationError("warehouse_id", "倉庫IDに無効な文字が含まれています", warehouseID, ErrInvalidWarehouse)
	}
	return nil
}

// ValidateUnitCode 単位コードの形式をバリデーション
func ValidateUnitCode(unitCode string) error {
	if unitCode == "" {
		return NewValidationError("unit_code", "単位コードが空です", unitCode, ErrUnknownUnit)
	}
	if len(unitCode) > 32 {
		return NewValidationError("unit_code", "単位コードが長すぎます", unitCode, ErrUnknownUnit)
	}
	if !unitCodePattern.MatchString(unitCode) {
		return NewValidationError("unit_code", "単位コードに無効な文字が含まれています", unitCode, ErrUnknownUnit)
	}
	return nil
}

// ValidateSeriesCode 伝票系列コードの形式をバリデーション
func ValidateSeriesCode(series string) error {
	if !seriesCodePattern.MatchString(series) {
		return NewValidationError("series", "系列コードは1〜8文字の大文字英字である必要があります", series, ErrInvalidQuantity)
	}
	return nil
}

// ValidateReasonID 理由コードの形式をバリデーション
func ValidateReasonID(reasonID string) error {
	if reasonID == "" {
		return NewValidationError("reason_id", "理由コードが空です", reasonID, ErrInvalidReason)
	}
	if len(reasonID) > 64 {
		return NewValidationError("reason_id", "理由コードが長すぎます", reasonID, ErrInvalidReason)
	}
	return nil
}

// ValidateActor 操作ユーザーをバリデーション
func ValidateActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return NewValidationError("actor", "操作ユーザーが指定されていません", actor, ErrNotFound)
	}
	if len(actor) > 255 {
		return NewValidationError("actor", "操作ユーザーが長すぎます", actor, ErrNotFound)
	}
	return nil
}

// ValidateNote 備考をバリデーション
func ValidateNote(note string) error {
	if len(note) > 2000 {
		return NewValidationError("note", "備考が長すぎます", note, ErrInvalidQuantity)
	}
	return nil
}

// ValidatePositiveQuantity 数量が正の有効範囲内かをバリデーション
func ValidatePositiveQuantity(quantity decimal.Decimal) error {
	if quantity.Sign() <= 0 {
		return NewValidationError("quantity", "数量は正の値である必要があります", quantity.String(), ErrNonPositiveQuantity)
	}
	if quantity.GreaterThan(maxDecimalValue) {
		return NewValidationError("quantity", "数量が有効範囲を超えています", quantity.String(), ErrInvalidQuantity)
	}
	return nil
}

// ValidateUnitCost 原価が有効範囲内かをバリデーション
func ValidateUnitCost(unitCost decimal.Decimal) error {
	if unitCost.Sign() < 0 {
		return NewValidationError("unit_cost", "原価は0以上である必要があります", unitCost.String(), ErrInvalidQuantity)
	}
	if unitCost.GreaterThan(maxDecimalValue) {
		return NewValidationError("unit_cost", "原価が有効範囲を超えています", unitCost.String(), ErrInvalidQuantity)
	}
	return nil
}

// ValidateMovementKind 移動種別をバリデーション
func ValidateMovementKind(kind MovementKind) error {
	switch kind {
	case MovementKindPurchase, MovementKindSale,
		MovementKindAdjustmentIn, MovementKindAdjustmentOut,
		MovementKindTransferIn, MovementKindTransferOut,
		MovementKindReconciliation:
		return nil
	}
	return NewValidationError("kind", "無効な移動種別です", string(kind), ErrNotFound)
}

// ValidateDirection 調整方向をバリデーション
func ValidateDirection(direction AdjustmentDirection) error {
	switch direction {
	case AdjustmentDirectionIn, AdjustmentDirectionOut:
		return nil
	}
	return NewValidationError("direction", "無効な調整方向です", string(direction), ErrNotFound)
}

// ValidateUnitPlan 単位プラン全体をバリデーション。
// すべての係数は厳密に正であり、係数1の明細（基本単位）は高々1つ
func ValidateUnitPlan(plan *UnitPlan) error {
	if plan == nil {
		return NewValidationError("unit_plan", "単位プランが指定されていません", "nil", ErrPlanNotFound)
	}
	if len(plan.Details) == 0 {
		return NewValidationError("unit_plan", "単位プランに明細がありません", plan.ID, ErrPlanNotFound)
	}

	one := decimal.NewFromInt(1)
	baseCount := 0
	seen := make(map[string]bool, len(plan.Details))

	for _, detail := range plan.Details {
		if err := ValidateUnitCode(detail.UnitCode); err != nil {
			return err
		}
		if seen[detail.UnitCode] {
			return NewValidationError("unit_plan", "単位コードが重複しています", detail.UnitCode, ErrPlanNotFound)
		}
		seen[detail.UnitCode] = true

		if detail.FactorToBase.Sign() <= 0 {
			return NewValidationError("factor_to_base", "換算係数は正の値である必要があります", detail.FactorToBase.String(), ErrInvalidQuantity)
		}
		if detail.FactorToBase.Equal(one) {
			baseCount++
		}
	}

	if baseCount > 1 {
		return NewValidationError("unit_plan", "係数1の基本単位明細が複数あります", plan.ID, ErrPlanNotFound)
	}

	return nil
}

// ValidateAdjustmentDocument 調整伝票の構造をバリデーション。
// 倉庫IDの形式チェックと外部カタログへの照会（理由・倉庫・プランの
// アクティブ確認）はビルダーが理由→倉庫→単位→数量の順で行う
func ValidateAdjustmentDocument(doc *AdjustmentDocument) error {
	if doc == nil {
		return NewValidationError("document", "調整伝票が指定されていません", "nil", ErrEmptyDocument)
	}
	if err := ValidateDirection(doc.Direction); err != nil {
		return err
	}
	if err := ValidateReasonID(doc.ReasonID); err != nil {
		return err
	}
	if err := ValidateActor(doc.Actor); err != nil {
		return err
	}
	if err := ValidateNote(doc.Note); err != nil {
		return err
	}
	if len(doc.Lines) == 0 {
		return ErrEmptyDocument
	}

	for i, line := range doc.Lines {
		if err := ValidateItemID(line.ItemID); err != nil {
			return toLineError(err, i)
		}
		if err := ValidateUnitCode(line.UnitCode); err != nil {
			return toLineError(err, i)
		}
		if err := ValidateUnitCost(line.UnitCost); err != nil {
			return toLineError(err, i)
		}
	}

	return nil
}

// ValidateEntry 台帳行全体をバリデーション
func ValidateEntry(entry *MovementEntry) error {
	if entry == nil {
		return NewValidationError("entry", "台帳行が指定されていません", "nil", ErrNotFound)
	}
	if err := ValidateItemID(entry.ItemID); err != nil {
		return err
	}
	if err := ValidateWarehouseID(entry.WarehouseID); err != nil {
		return err
	}
	if err := ValidateMovementKind(entry.Kind); err != nil {
		return err
	}
	if err := ValidateActor(entry.Actor); err != nil {
		return err
	}
	if entry.QuantityBase.IsZero() {
		return NewValidationError("quantity_base", "数量0の行は記帳できません", "0", ErrNonPositiveQuantity)
	}

	// 調整・補正には理由コードが必須
	switch entry.Kind {
	case MovementKindAdjustmentIn, MovementKindAdjustmentOut, MovementKindReconciliation:
		if entry.ReasonCode == nil || *entry.ReasonCode == "" {
			return NewValidationError("reason_code", "調整・補正には理由コードが必須です", "", ErrInvalidReason)
		}
	}

	return nil
}

// toLineError binds a field validation error to a document line index
// フィールドバリデーションエラーを明細行インデックスに紐づける
func toLineError(err error, line int) error {
	if verr, ok := err.(*ValidationError); ok {
		verr.Line = line
		return verr
	}
	return err
}
