package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

func tradesN(start, n int) []domain.TradeRecord {
	out := make([]domain.TradeRecord, n)
	for i := range out {
		out[i] = domain.TradeRecord{
			Market:     16,
			Block:      uint64(start + i),
			PriceTicks: int64(100 + start + i),
			SizeUnits:  1_000000,
			Side:       domain.TradeSideBuy,
		}
	}
	return out
}

func TestTradeLogSnapshotTrimsToBound(t *testing.T) {
	l := NewTradeLog(3)
	l.ApplySnapshot(16, tradesN(0, 5))

	held := l.Recent(16, 0)
	require.Len(t, held, 3)
	// Oldest entries were trimmed; newest last.
	require.Equal(t, uint64(2), held[0].Block)
	require.Equal(t, uint64(4), held[2].Block)
}

func TestTradeLogAppendEvictsOldest(t *testing.T) {
	l := NewTradeLog(4)
	l.ApplySnapshot(16, tradesN(0, 4))
	l.Append(16, tradesN(4, 2))

	held := l.Recent(16, 0)
	require.Len(t, held, 4)
	require.Equal(t, uint64(2), held[0].Block)
	require.Equal(t, uint64(5), held[3].Block)
}

func TestTradeLogRecentSubset(t *testing.T) {
	l := NewTradeLog(10)
	l.ApplySnapshot(16, tradesN(0, 6))

	recent := l.Recent(16, 2)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(4), recent[0].Block)
	require.Equal(t, uint64(5), recent[1].Block)

	// Asking for more than held returns everything.
	require.Len(t, l.Recent(16, 100), 6)
	require.Empty(t, l.Recent(99, 5))
}

func TestTradeLogSnapshotReplacesHistory(t *testing.T) {
	l := NewTradeLog(10)
	l.ApplySnapshot(16, tradesN(0, 4))
	l.ApplySnapshot(16, tradesN(50, 2))

	held := l.Recent(16, 0)
	require.Len(t, held, 2)
	require.Equal(t, uint64(50), held[0].Block)
}
