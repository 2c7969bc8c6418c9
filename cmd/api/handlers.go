package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/daichoGoFramework/pkg/ledger"
)

// Handlers holds HTTP handlers for the ledger API
// 台帳API用のHTTPハンドラーを保持
type Handlers struct {
	builder    *ledger.AdjustmentBuilder
	reconciler *ledger.Reconciler
	kardex     *ledger.KardexService
	store      ledger.Store
	logger     *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(builder *ledger.AdjustmentBuilder, reconciler *ledger.Reconciler, kardex *ledger.KardexService, store ledger.Store, logger *zap.Logger) *Handlers {
	return &Handlers{
		builder:    builder,
		reconciler: reconciler,
		kardex:     kardex,
		store:      store,
		logger:     logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CorrectionRequest represents a request to post a reconciliation correction
// 照合補正記帳リクエストを表現
type CorrectionRequest struct {
	WarehouseID string `json:"warehouse_id"`
	Actor       string `json:"actor"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.sendError(w, http.StatusServiceUnavailable, "ストレージに接続できません")
		return
	}

	h.sendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "daichoGoFramework",
	})
}

// PostAdjustment handles adjustment posting requests
// 調整記帳リクエストを処理
func (h *Handlers) PostAdjustment(w http.ResponseWriter, r *http.Request) {
	var doc ledger.AdjustmentDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	posted, err := h.builder.BuildAndPost(r.Context(), &doc)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendSuccess(w, posted)
}

// PeekAdjustmentNumber handles document number preview requests
// 伝票番号プレビューリクエストを処理
func (h *Handlers) PeekAdjustmentNumber(w http.ResponseWriter, r *http.Request) {
	ref, err := h.builder.PeekNextDocumentRef(r.Context())
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendSuccess(w, map[string]string{
		"next_document_ref": ref,
	})
}

// GetKardex handles kardex query requests
// カーデックス照会リクエストを処理
func (h *Handlers) GetKardex(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	itemID := vars["itemId"]

	filter, err := parseReadFilter(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.kardex.Query(r.Context(), itemID, filter)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendSuccess(w, result)
}

// GetKardexByWarehouse handles grouped kardex query requests
// 倉庫別カーデックス照会リクエストを処理
func (h *Handlers) GetKardexByWarehouse(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	itemID := vars["itemId"]

	filter, err := parseReadFilter(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.kardex.QueryByWarehouse(r.Context(), itemID, filter)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendSuccess(w, result)
}

// GetBalances handles balance listing requests
// 残高一覧リクエストを処理
func (h *Handlers) GetBalances(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	itemID := vars["itemId"]

	balances, err := h.store.Balances(r.Context(), itemID)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendSuccess(w, balances)
}

// GetReconciliation handles reconciliation report requests
// 照合レポートリクエストを処理
func (h *Handlers) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	itemID := vars["itemId"]

	var warehouseID *string
	if value := r.URL.Query().Get("warehouse"); value != "" {
		warehouseID = &value
	}

	report, err := h.reconciler.Recompute(r.Context(), itemID, warehouseID)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendSuccess(w, report)
}

// PostCorrection handles reconciliation correction requests
// 照合補正記帳リクエストを処理
func (h *Handlers) PostCorrection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	itemID := vars["itemId"]

	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if req.WarehouseID == "" {
		h.sendError(w, http.StatusBadRequest, "倉庫IDが指定されていません")
		return
	}
	if req.Actor == "" {
		req.Actor = "api_user"
	}

	report, posted, err := h.reconciler.RecomputeAndCorrect(r.Context(), itemID, req.WarehouseID, req.Actor)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendSuccess(w, map[string]interface{}{
		"report":    report,
		"posted":    posted,
		"corrected": posted != nil,
	})
}

// parseReadFilter extracts warehouse and date range filters from query params
// クエリパラメータから倉庫・日付範囲の絞り込み条件を抽出
func parseReadFilter(r *http.Request) (ledger.ReadFilter, error) {
	var filter ledger.ReadFilter

	if value := r.URL.Query().Get("warehouse"); value != "" {
		filter.WarehouseID = &value
	}
	if value := r.URL.Query().Get("from"); value != "" {
		from, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return filter, errors.New("fromパラメータの形式が無効です")
		}
		filter.From = &from
	}
	if value := r.URL.Query().Get("to"); value != "" {
		to, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return filter, errors.New("toパラメータの形式が無効です")
		}
		filter.To = &to
	}

	return filter, nil
}

// ヘルパーメソッド

// sendLedgerError maps ledger errors to HTTP status codes
// 台帳エラーをHTTPステータスコードにマッピング
func (h *Handlers) sendLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrStaleBalance):
		h.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrPlanNotFound):
		h.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrUnknownUnit),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidReason),
		errors.Is(err, ledger.ErrInvalidWarehouse),
		errors.Is(err, ledger.ErrUnitResolutionFailed),
		errors.Is(err, ledger.ErrNonPositiveQuantity),
		errors.Is(err, ledger.ErrEmptyDocument),
		errors.Is(err, ledger.ErrReservedReason):
		h.sendError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("内部エラー", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := APIResponse{
		Success: true,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error:   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("エラーレスポンス送信に失敗しました", zap.Error(err))
	}
}
