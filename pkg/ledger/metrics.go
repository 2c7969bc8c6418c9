package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the ledger core
// 台帳コアのPrometheusメトリクス

var (
	// entriesAppendedTotal counts committed ledger entries by movement kind
	// 移動種別ごとのコミット済み台帳行数
	entriesAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daicho",
		Subsystem: "ledger",
		Name:      "entries_appended_total",
		Help:      "コミットされた台帳行の総数（移動種別ごと）",
	}, []string{"kind"})

	// documentsPostedTotal counts successfully posted adjustment documents
	// 記帳に成功した調整伝票数
	documentsPostedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "daicho",
		Subsystem: "ledger",
		Name:      "documents_posted_total",
		Help:      "記帳に成功した調整伝票の総数",
	})

	// staleBalanceConflictsTotal counts optimistic concurrency rejections
	// 楽観的同時実行制御による拒否数
	staleBalanceConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "daicho",
		Subsystem: "ledger",
		Name:      "stale_balance_conflicts_total",
		Help:      "想定残高の不一致で拒否された記帳の総数",
	})

	// correctionsPostedTotal counts posted reconciliation corrections
	// 記帳された照合補正数
	correctionsPostedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "daicho",
		Subsystem: "reconciliation",
		Name:      "corrections_posted_total",
		Help:      "記帳された照合補正の総数",
	})

	// replayEntriesHistogram observes the length of reconciliation replays
	// 照合再生で読み取った行数の分布
	replayEntriesHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daicho",
		Subsystem: "reconciliation",
		Name:      "replay_entries",
		Help:      "照合再生1回あたりの読み取り行数",
		Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
	})
)
