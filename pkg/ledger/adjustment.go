package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds configuration for the ledger components
// 台帳コンポーネントの設定を保持
type Config struct {
	AdjustmentSeries     string `yaml:"adjustment_series"`     // 手動調整の伝票系列（例: AJ）
	CorrectionSeries     string `yaml:"correction_series"`     // 照合補正の伝票系列（例: RC）
	NumberLength         int    `yaml:"number_length"`         // 伝票番号のゼロ埋め桁数
	ReconciliationReason string `yaml:"reconciliation_reason"` // システム照合補正用の予約理由コード
	MaxLines             int    `yaml:"max_lines"`             // 1伝票あたりの最大明細数
	ReplayPageSize       int    `yaml:"replay_page_size"`      // 照合再生の1ページあたり行数
}

// DefaultConfig returns the default ledger configuration
// デフォルトの台帳設定を返す
func DefaultConfig() *Config {
	return &Config{
		AdjustmentSeries:     "AJ",
		CorrectionSeries:     "RC",
		NumberLength:         6,
		ReconciliationReason: "SYS-RECON",
		MaxLines:             200,
		ReplayPageSize:       500,
	}
}

// AdjustmentBuilder validates adjustment documents, converts lines to
// base-unit quantities and posts them as one atomic batch of ledger entries
// 調整伝票を検証し、明細を基本単位数量に変換して
// 台帳行のアトミックなバッチとして記帳する
type AdjustmentBuilder struct {
	store      Store
	sequences  *SequenceGenerator
	resolver   *UnitPlanResolver
	catalog    Catalog
	warehouses WarehouseRegistry
	reasons    ReasonCatalog
	publisher  EntryPublisher
	logger     *zap.Logger
	config     *Config
}

// NewAdjustmentBuilder creates a new adjustment builder. publisher may be nil.
// 新しい調整ビルダーを作成。publisherはnil可
func NewAdjustmentBuilder(store Store, catalog Catalog, warehouses WarehouseRegistry, reasons ReasonCatalog, publisher EntryPublisher, logger *zap.Logger, config *Config) *AdjustmentBuilder {
	if config == nil {
		config = DefaultConfig()
	}

	return &AdjustmentBuilder{
		store:      store,
		sequences:  NewSequenceGenerator(store, config.NumberLength, logger),
		resolver:   NewUnitPlanResolver(catalog, logger),
		catalog:    catalog,
		warehouses: warehouses,
		reasons:    reasons,
		publisher:  publisher,
		logger:     logger,
		config:     config,
	}
}

// PeekNextDocumentRef returns the next adjustment document number without
// consuming it, for UI preview only
// 次の調整伝票番号を消費せずに返す（UIプレビュー専用）
func (b *AdjustmentBuilder) PeekNextDocumentRef(ctx context.Context) (string, error) {
	number, err := b.sequences.Peek(ctx, b.config.AdjustmentSeries)
	if err != nil {
		return "", err
	}
	return number.String(), nil
}

// BuildAndPost validates and posts an adjustment document. All lines commit
// as one atomic unit sharing one document number; on any line failure the
// whole batch is rejected and nothing is written. A rejected attempt may
// burn a document number, which is an accepted gap in the series.
// On ErrStaleBalance the builder re-validates once against the fresh
// balance before surfacing the error.
// 調整伝票を検証して記帳する。全明細が1つの伝票番号を共有する
// アトミックな単位としてコミットされ、いずれかの明細が失敗した場合は
// バッチ全体が拒否され何も書き込まれない。拒否された試行は伝票番号を
// 消費することがあるが、これは許容される欠番である。
// ErrStaleBalance発生時は最新残高で1回だけ再検証してから失敗を返す
func (b *AdjustmentBuilder) BuildAndPost(ctx context.Context, doc *AdjustmentDocument) (*PostedDocument, error) {
	for attempt := 0; ; attempt++ {
		posted, err := b.post(ctx, doc)
		if errors.Is(err, ErrStaleBalance) && attempt == 0 {
			staleBalanceConflictsTotal.Inc()
			b.logger.Warn("想定残高が更新されていたため再検証します",
				zap.String("warehouse_id", doc.WarehouseID),
				zap.Int("lines", len(doc.Lines)),
			)
			continue
		}
		return posted, err
	}
}

// post runs one full validate-convert-append attempt
// 検証・変換・記帳の1試行を実行
func (b *AdjustmentBuilder) post(ctx context.Context, doc *AdjustmentDocument) (*PostedDocument, error) {
	// 構造バリデーション
	if err := ValidateAdjustmentDocument(doc); err != nil {
		return nil, err
	}
	if b.config.MaxLines > 0 && len(doc.Lines) > b.config.MaxLines {
		return nil, NewValidationError("lines", "明細数が上限を超えています", "", ErrInvalidQuantity)
	}

	// 1. 理由コード: アクティブであること。予約コードは手動調整では拒否
	reason, err := b.reasons.GetReason(ctx, doc.ReasonID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("reason_id", "理由コードが存在しません", doc.ReasonID, ErrInvalidReason)
		}
		return nil, NewLedgerError("get_reason", "理由コード取得に失敗しました", err)
	}
	if !reason.Active {
		return nil, NewValidationError("reason_id", "理由コードが非アクティブです", doc.ReasonID, ErrInvalidReason)
	}
	if reason.Code == b.config.ReconciliationReason {
		return nil, ErrReservedReason
	}

	// 2. 倉庫: 形式が正しくアクティブであること
	if err := ValidateWarehouseID(doc.WarehouseID); err != nil {
		return nil, err
	}
	warehouse, err := b.warehouses.GetWarehouse(ctx, doc.WarehouseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("warehouse_id", "倉庫が存在しません", doc.WarehouseID, ErrInvalidWarehouse)
		}
		return nil, NewLedgerError("get_warehouse", "倉庫取得に失敗しました", err)
	}
	if !warehouse.Active {
		return nil, NewValidationError("warehouse_id", "倉庫が非アクティブです", doc.WarehouseID, ErrInvalidWarehouse)
	}

	// 3〜4. 明細ごとに単位解決と数量チェック、基本単位への変換
	kind := MovementKindAdjustmentIn
	sign := decimal.NewFromInt(1)
	if doc.Direction == AdjustmentDirectionOut {
		kind = MovementKindAdjustmentOut
		sign = decimal.NewFromInt(-1)
	}

	timestamp := doc.Date
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	reasonCode := reason.Code
	entries := make([]MovementEntry, 0, len(doc.Lines))

	for i, line := range doc.Lines {
		item, err := b.catalog.GetItem(ctx, line.ItemID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, NewLineValidationError(i, "item_id", "商品が存在しません", line.ItemID, ErrUnitResolutionFailed)
			}
			return nil, NewLedgerError("get_item", "商品取得に失敗しました", err)
		}

		plan, err := b.resolveLinePlan(ctx, &line, item)
		if err != nil {
			return nil, NewLineValidationError(i, "unit_code", "単位を解決できません", line.UnitCode, ErrUnitResolutionFailed)
		}

		factor, err := plan.FactorOf(line.UnitCode)
		if err != nil {
			return nil, NewLineValidationError(i, "unit_code", "単位コードがプランに定義されていません", line.UnitCode, ErrUnitResolutionFailed)
		}
		if factor.Sign() <= 0 {
			return nil, NewLineValidationError(i, "factor_to_base", "換算係数が無効です", factor.String(), ErrUnitResolutionFailed)
		}

		if err := ValidatePositiveQuantity(line.Quantity); err != nil {
			return nil, toLineError(err, i)
		}

		quantityBase := line.Quantity.Mul(factor).Mul(sign)
		unitCostBase := line.UnitCost.Div(factor)

		entries = append(entries, MovementEntry{
			ItemID:       line.ItemID,
			WarehouseID:  doc.WarehouseID,
			Timestamp:    timestamp,
			Kind:         kind,
			QuantityBase: quantityBase,
			UnitCostBase: unitCostBase,
			ReasonCode:   &reasonCode,
			Actor:        doc.Actor,
			Note:         doc.Note,
		})
	}

	// 検証時点の残高を取得（コミット時にストアが再検証する）
	assumed, err := b.captureBalances(ctx, entries)
	if err != nil {
		return nil, err
	}

	// 伝票番号を採番して記帳
	number, err := b.sequences.Next(ctx, b.config.AdjustmentSeries)
	if err != nil {
		return nil, err
	}

	return b.commit(ctx, number.String(), entries, assumed)
}

// resolveLinePlan resolves the unit plan of a line; a line without a plan ID
// is interpreted in the item's base unit
// 明細の単位プランを解決する。プランID未指定の明細は商品の基本単位として解釈される
func (b *AdjustmentBuilder) resolveLinePlan(ctx context.Context, line *AdjustmentLine, item *Item) (*UnitPlan, error) {
	if line.UnitPlanID == "" {
		return BaseUnitPlan(item.BaseUnit), nil
	}
	return b.resolver.Resolve(ctx, line.UnitPlanID)
}

// captureBalances reads the current balance of every key touched by the batch
// バッチが触れる全キーの現在残高を取得する
func (b *AdjustmentBuilder) captureBalances(ctx context.Context, entries []MovementEntry) (map[LedgerKey]decimal.Decimal, error) {
	assumed := make(map[LedgerKey]decimal.Decimal)
	for i := range entries {
		key := entries[i].Key()
		if _, ok := assumed[key]; ok {
			continue
		}
		balance, err := b.store.CurrentBalance(ctx, key.ItemID, key.WarehouseID)
		if err != nil {
			return nil, NewLedgerError("current_balance", "残高取得に失敗しました", err)
		}
		assumed[key] = balance
	}
	return assumed, nil
}

// commit appends one atomic batch and publishes the result
// アトミックなバッチを記帳し、結果イベントを発行する
func (b *AdjustmentBuilder) commit(ctx context.Context, documentRef string, entries []MovementEntry, assumed map[LedgerKey]decimal.Decimal) (*PostedDocument, error) {
	for i := range entries {
		entries[i].DocumentRef = documentRef
	}

	batch := &AppendBatch{
		DocumentRef:     documentRef,
		CorrelationID:   NewCorrelationID(),
		Entries:         entries,
		AssumedBalances: assumed,
	}

	committed, err := b.store.AppendEntries(ctx, batch)
	if err != nil {
		if errors.Is(err, ErrStaleBalance) {
			return nil, err
		}
		return nil, NewLedgerError("append_entries", "台帳への記帳に失敗しました", err)
	}

	for i := range committed {
		entriesAppendedTotal.WithLabelValues(string(committed[i].Kind)).Inc()
	}
	documentsPostedTotal.Inc()

	posted := &PostedDocument{
		DocumentRef:   documentRef,
		CorrelationID: batch.CorrelationID,
		Entries:       committed,
		PostedAt:      time.Now(),
	}

	if b.publisher != nil {
		event := EntriesAppendedEvent{
			DocumentRef:   documentRef,
			CorrelationID: batch.CorrelationID,
			Timestamp:     posted.PostedAt,
			Actor:         committed[0].Actor,
		}
		net := decimal.Zero
		for i := range committed {
			event.EntryIDs = append(event.EntryIDs, committed[i].ID)
			event.Keys = append(event.Keys, committed[i].Key())
			net = net.Add(committed[i].QuantityBase)
		}
		event.NetQuantity = net

		if err := b.publisher.PublishEntriesAppended(ctx, event); err != nil {
			b.logger.Error("イベント発行に失敗しました", zap.Error(err))
		}
	}

	b.logger.Info("調整記帳完了",
		zap.String("document_ref", documentRef),
		zap.Int("lines", len(committed)),
	)

	return posted, nil
}

// postCorrection posts a single reconciliation correction entry through the
// same atomic path. The assumed balance is the stored balance the difference
// was computed against: if a concurrent writer moved the balance, the
// correction no longer applies and the stale rejection is surfaced without
// retry.
// 照合補正行1件を同じアトミック経路で記帳する。想定残高は差異計算の基準とした
// 保存残高であり、並行書き込みで残高が動いた場合は補正自体が無効なため、
// 再試行せずに拒否を返す
func (b *AdjustmentBuilder) postCorrection(ctx context.Context, report *ReconciliationReport, warehouseID, reasonID, note, actor string) (*PostedDocument, error) {
	reason, err := b.reasons.GetReason(ctx, reasonID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("reason_id", "理由コードが存在しません", reasonID, ErrInvalidReason)
		}
		return nil, NewLedgerError("get_reason", "理由コード取得に失敗しました", err)
	}
	if !reason.Active {
		return nil, NewValidationError("reason_id", "理由コードが非アクティブです", reasonID, ErrInvalidReason)
	}

	warehouse, err := b.warehouses.GetWarehouse(ctx, warehouseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("warehouse_id", "倉庫が存在しません", warehouseID, ErrInvalidWarehouse)
		}
		return nil, NewLedgerError("get_warehouse", "倉庫取得に失敗しました", err)
	}
	if !warehouse.Active {
		return nil, NewValidationError("warehouse_id", "倉庫が非アクティブです", warehouseID, ErrInvalidWarehouse)
	}

	item, err := b.catalog.GetItem(ctx, report.ItemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("item_id", "商品が存在しません", report.ItemID, ErrNotFound)
		}
		return nil, NewLedgerError("get_item", "商品取得に失敗しました", err)
	}

	number, err := b.sequences.Next(ctx, b.config.CorrectionSeries)
	if err != nil {
		return nil, err
	}

	reasonCode := reason.Code
	entry := MovementEntry{
		ItemID:       report.ItemID,
		WarehouseID:  warehouseID,
		Timestamp:    time.Now(),
		Kind:         MovementKindReconciliation,
		QuantityBase: report.Difference,
		UnitCostBase: item.CurrentCost,
		ReasonCode:   &reasonCode,
		Actor:        actor,
		Note:         note,
	}

	assumed := map[LedgerKey]decimal.Decimal{
		entry.Key(): report.StoredBalance,
	}

	posted, err := b.commit(ctx, number.String(), []MovementEntry{entry}, assumed)
	if err != nil {
		return nil, err
	}

	correctionsPostedTotal.Inc()

	if b.publisher != nil {
		event := CorrectionPostedEvent{
			DocumentRef:     posted.DocumentRef,
			ItemID:          report.ItemID,
			WarehouseID:     warehouseID,
			StoredBalance:   report.StoredBalance,
			ComputedBalance: report.ComputedBalance,
			Difference:      report.Difference,
			Timestamp:       posted.PostedAt,
		}
		if err := b.publisher.PublishCorrectionPosted(ctx, event); err != nil {
			b.logger.Error("補正イベント発行に失敗しました", zap.Error(err))
		}
	}

	return posted, nil
}
