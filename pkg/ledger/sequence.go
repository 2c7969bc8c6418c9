package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// String formats the document number as prefix + zero-padded counter,
// e.g. AJ-000123
// 伝票番号を「プレフィックス-ゼロ埋め連番」形式で整形（例: AJ-000123）
func (n DocumentNumber) String() string {
	return fmt.Sprintf("%s-%0*d", n.Prefix, n.Length, n.Number)
}

// SequenceGenerator issues monotonically increasing, gapless-per-series
// document numbers. Each series has its own counter, independent of ledger
// key locking, so unrelated items are never serialized behind numbering.
// Numbers consumed by a posting that later rolls back are an accepted gap
// in the series; they are never reused.
// 系列ごとに単調増加する伝票番号を採番する。系列ごとに独立したカウンターを持ち、
// 台帳キーのロックとは無関係なため、無関係な商品が採番待ちで直列化されることはない。
// ロールバックにより消費された番号は許容される欠番であり、再利用されない
type SequenceGenerator struct {
	store  Store
	length int
	logger *zap.Logger
}

// NewSequenceGenerator creates a new sequence generator. length is the
// zero-padding width of formatted numbers.
// 新しい採番ジェネレーターを作成。lengthはゼロ埋め桁数
func NewSequenceGenerator(store Store, length int, logger *zap.Logger) *SequenceGenerator {
	if length <= 0 {
		length = 6
	}
	return &SequenceGenerator{
		store:  store,
		length: length,
		logger: logger,
	}
}

// Next atomically consumes and returns the next number of a series.
// Concurrent callers on the same series never receive the same number.
// 系列の次の番号をアトミックに消費して返す。
// 同一系列への同時呼び出しが同じ番号を受け取ることはない
func (g *SequenceGenerator) Next(ctx context.Context, series string) (DocumentNumber, error) {
	if err := ValidateSeriesCode(series); err != nil {
		return DocumentNumber{}, err
	}

	number, err := g.store.NextSequence(ctx, series)
	if err != nil {
		return DocumentNumber{}, NewLedgerError("next_sequence", "伝票番号の採番に失敗しました", err)
	}

	doc := DocumentNumber{Prefix: series, Number: number, Length: g.length}

	g.logger.Debug("伝票番号採番完了",
		zap.String("series", series),
		zap.String("document_ref", doc.String()),
	)

	return doc, nil
}

// Peek returns the next number of a series without consuming it. For UI
// preview only: the returned number is not reserved and a concurrent Next
// may take it.
// 系列の次の番号を消費せずに返す。UIプレビュー専用であり、
// 返された番号は予約されず、並行するNextに取得される可能性がある
func (g *SequenceGenerator) Peek(ctx context.Context, series string) (DocumentNumber, error) {
	if err := ValidateSeriesCode(series); err != nil {
		return DocumentNumber{}, err
	}

	number, err := g.store.PeekSequence(ctx, series)
	if err != nil {
		return DocumentNumber{}, NewLedgerError("peek_sequence", "伝票番号の参照に失敗しました", err)
	}

	return DocumentNumber{Prefix: series, Number: number, Length: g.length}, nil
}
