// Package storage provides persistence implementations of the ledger
// contracts
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/daichoGoFramework/pkg/ledger"
)

// PostgreSQLStore implements the ledger Store and catalog interfaces using
// PostgreSQL
// PostgreSQLを使用した台帳Storeとカタログインターフェースの実装
type PostgreSQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgreSQLStore creates a new PostgreSQL store instance
// 新しいPostgreSQLストアインスタンスを作成
func NewPostgreSQLStore(dsn string, logger *zap.Logger) (*PostgreSQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgreSQLStore{
		db:     db,
		logger: logger,
	}, nil
}

// AppendEntries commits one atomic batch of movement entries. Balance rows
// of every touched key are locked in deterministic order, the caller's
// assumed balances are re-checked under the lock, entry IDs and balance
// snapshots are assigned inside the transaction, and the materialized
// balances are updated. Any assumed-balance mismatch rolls back the whole
// batch.
// 移動行のアトミックなバッチをコミットする。対象キーの残高行を
// 決定的な順序でロックし、ロック下で想定残高を再検証し、
// トランザクション内で台帳IDと残高スナップショットを採番・計算して
// マテリアライズド残高を更新する。想定残高の不一致はバッチ全体をロールバックする
func (s *PostgreSQLStore) AppendEntries(ctx context.Context, batch *ledger.AppendBatch) ([]ledger.MovementEntry, error) {
	if batch == nil || len(batch.Entries) == 0 {
		return nil, ledger.ErrEmptyDocument
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// デッドロック回避のためキーを固定順でロックする
	keys := make([]ledger.LedgerKey, 0, len(batch.AssumedBalances))
	for key := range batch.AssumedBalances {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ItemID != keys[j].ItemID {
			return keys[i].ItemID < keys[j].ItemID
		}
		return keys[i].WarehouseID < keys[j].WarehouseID
	})

	running := make(map[ledger.LedgerKey]decimal.Decimal, len(keys))
	for _, key := range keys {
		current, err := lockBalance(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if assumed, ok := batch.AssumedBalances[key]; ok && !current.Equal(assumed) {
			return nil, ledger.NewConcurrencyError("append_entries", key,
				fmt.Sprintf("想定残高%sに対して保存残高は%sです", assumed.String(), current.String()))
		}
		running[key] = current
	}

	insertEntry := `
		INSERT INTO movement_entries (item_id, warehouse_id, ts, kind, document_ref, quantity_base, unit_cost_base, balance_after, reason_code, actor, note, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	upsertBalance := `
		INSERT INTO stock_balances (item_id, warehouse_id, current_balance, last_entry_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, warehouse_id)
		DO UPDATE SET current_balance = $3, last_entry_id = $4, updated_at = $5`

	committed := make([]ledger.MovementEntry, len(batch.Entries))
	now := time.Now()

	for i, entry := range batch.Entries {
		key := entry.Key()
		balance, ok := running[key]
		if !ok {
			// 想定残高が渡されていないキーはこの場でロックして取得する
			balance, err = lockBalance(ctx, tx, key)
			if err != nil {
				return nil, err
			}
		}

		balance = balance.Add(entry.QuantityBase)
		entry.BalanceAfter = balance
		entry.DocumentRef = batch.DocumentRef
		running[key] = balance

		err := tx.QueryRowContext(ctx, insertEntry,
			entry.ItemID,
			entry.WarehouseID,
			entry.Timestamp,
			entry.Kind,
			entry.DocumentRef,
			entry.QuantityBase,
			entry.UnitCostBase,
			entry.BalanceAfter,
			entry.ReasonCode,
			entry.Actor,
			entry.Note,
			batch.CorrelationID,
		).Scan(&entry.ID)

		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return nil, fmt.Errorf("台帳行は既に存在します: %w", err)
			}
			return nil, fmt.Errorf("台帳行の挿入に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx, upsertBalance,
			entry.ItemID, entry.WarehouseID, balance, entry.ID, now,
		); err != nil {
			return nil, fmt.Errorf("残高更新に失敗しました: %w", err)
		}

		committed[i] = entry
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションコミットに失敗しました: %w", err)
	}

	return committed, nil
}

// lockBalance reads one balance row under FOR UPDATE; a missing row is a
// zero balance
// 残高行をFOR UPDATEで読み取る。行が存在しない場合は残高0
func lockBalance(ctx context.Context, tx *sql.Tx, key ledger.LedgerKey) (decimal.Decimal, error) {
	query := `
		SELECT current_balance
		FROM stock_balances
		WHERE item_id = $1 AND warehouse_id = $2
		FOR UPDATE`

	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, query, key.ItemID, key.WarehouseID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("残高ロックに失敗しました: %w", err)
	}

	return balance, nil
}

// ReadRange retrieves an item's movement entries ordered by ID ascending
// 商品の移動行を台帳ID昇順で取得
func (s *PostgreSQLStore) ReadRange(ctx context.Context, itemID string, filter ledger.ReadFilter) ([]ledger.MovementEntry, error) {
	query := `
		SELECT id, item_id, warehouse_id, ts, kind, document_ref, quantity_base, unit_cost_base, balance_after, reason_code, actor, note
		FROM movement_entries
		WHERE item_id = $1 AND id > $2`
	args := []interface{}{itemID, filter.AfterID}

	if filter.WarehouseID != nil {
		args = append(args, *filter.WarehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}

	query += " ORDER BY id ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("台帳範囲取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []ledger.MovementEntry
	for rows.Next() {
		var entry ledger.MovementEntry
		err := rows.Scan(
			&entry.ID,
			&entry.ItemID,
			&entry.WarehouseID,
			&entry.Timestamp,
			&entry.Kind,
			&entry.DocumentRef,
			&entry.QuantityBase,
			&entry.UnitCostBase,
			&entry.BalanceAfter,
			&entry.ReasonCode,
			&entry.Actor,
			&entry.Note,
		)
		if err != nil {
			return nil, fmt.Errorf("台帳行スキャンに失敗しました: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CurrentBalance retrieves the materialized balance of one ledger key.
// A missing row is a zero balance.
// 台帳キーのマテリアライズド残高を取得。行が存在しない場合は残高0
func (s *PostgreSQLStore) CurrentBalance(ctx context.Context, itemID, warehouseID string) (decimal.Decimal, error) {
	query := `
		SELECT current_balance
		FROM stock_balances
		WHERE item_id = $1 AND warehouse_id = $2`

	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, query, itemID, warehouseID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("残高取得に失敗しました: %w", err)
	}

	return balance, nil
}

// Balances retrieves every per-warehouse balance of an item
// 商品の倉庫ごとの残高をすべて取得
func (s *PostgreSQLStore) Balances(ctx context.Context, itemID string) ([]ledger.StockBalance, error) {
	query := `
		SELECT item_id, warehouse_id, current_balance, last_entry_id, updated_at
		FROM stock_balances
		WHERE item_id = $1
		ORDER BY warehouse_id`

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("残高一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var balances []ledger.StockBalance
	for rows.Next() {
		var balance ledger.StockBalance
		err := rows.Scan(
			&balance.ItemID,
			&balance.WarehouseID,
			&balance.CurrentBalance,
			&balance.LastEntryID,
			&balance.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("残高スキャンに失敗しました: %w", err)
		}
		balances = append(balances, balance)
	}

	return balances, rows.Err()
}

// NextSequence atomically consumes the next number of a document series
// 伝票系列の次の番号をアトミックに消費
func (s *PostgreSQLStore) NextSequence(ctx context.Context, series string) (int64, error) {
	query := `
		INSERT INTO document_sequences (series, last_number)
		VALUES ($1, 1)
		ON CONFLICT (series)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number`

	var number int64
	if err := s.db.QueryRowContext(ctx, query, series).Scan(&number); err != nil {
		return 0, fmt.Errorf("採番に失敗しました: %w", err)
	}

	return number, nil
}

// PeekSequence returns the next number of a series without consuming it
// 伝票系列の次の番号を消費せずに返す
func (s *PostgreSQLStore) PeekSequence(ctx context.Context, series string) (int64, error) {
	query := `SELECT last_number FROM document_sequences WHERE series = $1`

	var last int64
	err := s.db.QueryRowContext(ctx, query, series).Scan(&last)
	if err != nil {
		if err == sql.ErrNoRows {
			return 1, nil
		}
		return 0, fmt.Errorf("採番参照に失敗しました: %w", err)
	}

	return last + 1, nil
}

// GetItem retrieves an item by ID
// IDで商品を取得
func (s *PostgreSQLStore) GetItem(ctx context.Context, itemID string) (*ledger.Item, error) {
	query := `
		SELECT id, base_unit, current_cost, active
		FROM items
		WHERE id = $1`

	item := &ledger.Item{}
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID,
		&item.BaseUnit,
		&item.CurrentCost,
		&item.Active,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("商品取得に失敗しました: %w", err)
	}

	return item, nil
}

// GetUnitPlan retrieves a unit plan and its details in declaration order
// 単位プランとその明細を宣言順で取得
func (s *PostgreSQLStore) GetUnitPlan(ctx context.Context, planID string) (*ledger.UnitPlan, error) {
	query := `
		SELECT id, description
		FROM unit_plans
		WHERE id = $1`

	plan := &ledger.UnitPlan{}
	err := s.db.QueryRowContext(ctx, query, planID).Scan(&plan.ID, &plan.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("単位プラン取得に失敗しました: %w", err)
	}

	detailQuery := `
		SELECT unit_code, factor_to_base
		FROM unit_plan_details
		WHERE plan_id = $1
		ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, detailQuery, planID)
	if err != nil {
		return nil, fmt.Errorf("単位プラン明細取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var detail ledger.UnitDetail
		if err := rows.Scan(&detail.UnitCode, &detail.FactorToBase); err != nil {
			return nil, fmt.Errorf("単位プラン明細スキャンに失敗しました: %w", err)
		}
		plan.Details = append(plan.Details, detail)
	}

	return plan, rows.Err()
}

// GetWarehouse retrieves a warehouse by ID
// IDで倉庫を取得
func (s *PostgreSQLStore) GetWarehouse(ctx context.Context, warehouseID string) (*ledger.Warehouse, error) {
	query := `
		SELECT id, code, name, active
		FROM warehouses
		WHERE id = $1`

	warehouse := &ledger.Warehouse{}
	err := s.db.QueryRowContext(ctx, query, warehouseID).Scan(
		&warehouse.ID,
		&warehouse.Code,
		&warehouse.Name,
		&warehouse.Active,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("倉庫取得に失敗しました: %w", err)
	}

	return warehouse, nil
}

// GetReason retrieves a reason code by code
// コードで理由コードを取得
func (s *PostgreSQLStore) GetReason(ctx context.Context, reasonID string) (*ledger.ReasonCode, error) {
	query := `
		SELECT reason_group, code, description, active
		FROM reason_codes
		WHERE code = $1`

	reason := &ledger.ReasonCode{}
	err := s.db.QueryRowContext(ctx, query, reasonID).Scan(
		&reason.Group,
		&reason.Code,
		&reason.Description,
		&reason.Active,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("理由コード取得に失敗しました: %w", err)
	}

	return reason, nil
}

// Ping checks database connectivity
// データベース接続をチェック
func (s *PostgreSQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// コンパイル時のインターフェース実装チェック
var (
	_ ledger.Store             = (*PostgreSQLStore)(nil)
	_ ledger.Catalog           = (*PostgreSQLStore)(nil)
	_ ledger.WarehouseRegistry = (*PostgreSQLStore)(nil)
	_ ledger.ReasonCatalog     = (*PostgreSQLStore)(nil)
)
