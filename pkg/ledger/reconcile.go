package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconciler replays the full movement history of a ledger key and compares
// the result against the materialized balance. The replay is the source of
// truth; the stored balance is only an optimization.
// 台帳キーの全移動履歴を再生し、マテリアライズド残高と比較する。
// 再生結果が正であり、保存残高は最適化にすぎない
type Reconciler struct {
	store    Store
	builder  *AdjustmentBuilder
	logger   *zap.Logger
	config   *Config
	pageSize int
}

// NewReconciler creates a new reconciler. builder is used to post corrective
// entries; pass nil for a report-only reconciler.
// 新しい照合エンジンを作成。builderは補正記帳に使用され、
// レポート専用の場合はnil可
func NewReconciler(store Store, builder *AdjustmentBuilder, logger *zap.Logger, config *Config) *Reconciler {
	if config == nil {
		config = DefaultConfig()
	}
	pageSize := config.ReplayPageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	return &Reconciler{
		store:    store,
		builder:  builder,
		logger:   logger,
		config:   config,
		pageSize: pageSize,
	}
}

// Recompute replays every entry of an item and reports stored vs computed
// balance. warehouseID nil compares the sum of all per-warehouse balances.
// The replay reads in ID-ordered pages and honors context cancellation
// between pages.
// 商品の全行を再生し、保存残高と計算残高を比較する。
// warehouseIDがnilの場合は全倉庫残高の合算と比較する。
// 再生はID順のページ読み取りで行い、ページ間でコンテキストのキャンセルに応答する
func (r *Reconciler) Recompute(ctx context.Context, itemID string, warehouseID *string) (*ReconciliationReport, error) {
	if err := ValidateItemID(itemID); err != nil {
		return nil, err
	}
	if warehouseID != nil {
		if err := ValidateWarehouseID(*warehouseID); err != nil {
			return nil, err
		}
	}

	computed := decimal.Zero
	considered := 0
	afterID := int64(0)

	for {
		if err := ctx.Err(); err != nil {
			return nil, NewLedgerError("recompute", "照合再生がキャンセルされました", err)
		}

		page, err := r.store.ReadRange(ctx, itemID, ReadFilter{
			WarehouseID: warehouseID,
			AfterID:     afterID,
			Limit:       r.pageSize,
		})
		if err != nil {
			return nil, NewLedgerError("read_range", "台帳の読み取りに失敗しました", err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			computed = computed.Add(page[i].QuantityBase)
		}
		considered += len(page)
		afterID = page[len(page)-1].ID

		if len(page) < r.pageSize {
			break
		}
	}

	stored, err := r.storedBalance(ctx, itemID, warehouseID)
	if err != nil {
		return nil, err
	}

	replayEntriesHistogram.Observe(float64(considered))

	report := &ReconciliationReport{
		ItemID:            itemID,
		WarehouseID:       warehouseID,
		StoredBalance:     stored,
		ComputedBalance:   computed,
		Difference:        computed.Sub(stored),
		EntriesConsidered: considered,
		GeneratedAt:       time.Now(),
	}

	if !report.InBalance() {
		r.logger.Warn("残高の不整合を検出しました",
			zap.String("item_id", itemID),
			zap.String("stored", stored.String()),
			zap.String("computed", computed.String()),
			zap.String("difference", report.Difference.String()),
			zap.Int("entries_considered", considered),
		)
	}

	return report, nil
}

// storedBalance reads the materialized balance being audited
// 監査対象のマテリアライズド残高を読み取る
func (r *Reconciler) storedBalance(ctx context.Context, itemID string, warehouseID *string) (decimal.Decimal, error) {
	if warehouseID != nil {
		balance, err := r.store.CurrentBalance(ctx, itemID, *warehouseID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return decimal.Zero, NewLedgerError("current_balance", "残高取得に失敗しました", err)
		}
		return balance, nil
	}

	balances, err := r.store.Balances(ctx, itemID)
	if err != nil {
		return decimal.Zero, NewLedgerError("balances", "残高一覧の取得に失敗しました", err)
	}
	total := decimal.Zero
	for i := range balances {
		total = total.Add(balances[i].CurrentBalance)
	}
	return total, nil
}

// RecomputeAndCorrect recomputes one ledger key and, when a discrepancy is
// found, posts a single corrective entry that brings the stored balance to
// the computed one. The operation is idempotent: when stored and computed
// already agree, no entry is posted and the posted document is nil.
// 台帳キーを再計算し、差異があれば保存残高を計算残高に一致させる補正行を
// 1件だけ記帳する。冪等な操作であり、既に一致している場合は何も記帳せず
// 伝票はnilを返す
func (r *Reconciler) RecomputeAndCorrect(ctx context.Context, itemID, warehouseID, actor string) (*ReconciliationReport, *PostedDocument, error) {
	if r.builder == nil {
		return nil, nil, NewLedgerError("correct", "補正記帳が構成されていません", nil)
	}

	report, err := r.Recompute(ctx, itemID, &warehouseID)
	if err != nil {
		return nil, nil, err
	}

	if report.InBalance() {
		r.logger.Info("残高は一致しています。補正は不要です",
			zap.String("item_id", itemID),
			zap.String("warehouse_id", warehouseID),
		)
		return report, nil, nil
	}

	note := fmt.Sprintf("照合補正: 保存残高=%s 計算残高=%s 再生行数=%d",
		report.StoredBalance.String(),
		report.ComputedBalance.String(),
		report.EntriesConsidered,
	)

	posted, err := r.builder.postCorrection(ctx, report, warehouseID, r.config.ReconciliationReason, note, actor)
	if err != nil {
		return report, nil, err
	}

	r.logger.Info("照合補正を記帳しました",
		zap.String("item_id", itemID),
		zap.String("warehouse_id", warehouseID),
		zap.String("document_ref", posted.DocumentRef),
		zap.String("difference", report.Difference.String()),
	)

	return report, posted, nil
}
