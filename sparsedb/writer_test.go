package sparsedb

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ccprof/profbuild/classify"
	"github.com/ccprof/profbuild/model"
)

func TestWriterProducesProfileDBAndCctDBWithExpectedFraming(t *testing.T) {
	dm := model.NewDataModel()
	ident := classify.NewIdentifierFinalizer(dm)
	dm.Freeze()

	thread, inserted := dm.Threads.Intern(model.IdentifierTuple{
		{Kind: model.KindRank, Physical: 0, Logical: 0},
		{Kind: model.KindThread, Physical: 1, Logical: 1},
	})
	require.True(t, inserted)

	metric, _ := dm.Metrics.Intern(model.MetricKey{
		Name:   "cycles",
		Scopes: model.ScopePointVariant | model.ScopeFunctionVariant,
	}, "CPU cycles", model.ShowDefault)
	metric.AddStat(model.StatSum)
	metric.Freeze()

	ctx := dm.Contexts.Root

	tt := model.NewThreadTemporary(thread)
	tt.Accumulator(ctx, metric).Add(5)
	tt.VariantAccumulator(ctx, metric, model.ScopeFunctionVariant).Add(5)

	var profileBytes, cctBytes []byte
	w := NewWriter(dm, ident, nil,
		func(b []byte) error { profileBytes = b; return nil },
		func(b []byte) error { cctBytes = b; return nil },
	)

	w.NotifyThreadFinal(tt)

	ticket, err := w.Write(context.Background())
	require.NoError(t, err)
	require.True(t, ticket.Completed)

	require.True(t, bytes.HasPrefix(profileBytes, profileMagic[:]))
	require.True(t, bytes.HasSuffix(profileBytes, profileFooter[:]))
	require.Equal(t, formatMajor, profileBytes[10])
	require.Equal(t, formatMinor, profileBytes[11])
	numProfiles := order.Uint32(profileBytes[12:16])
	require.EqualValues(t, 2, numProfiles, "summary profile plus the one real thread")

	require.True(t, bytes.HasPrefix(cctBytes, cctMagic[:]))
	require.True(t, bytes.HasSuffix(cctBytes, cctFooter[:]))
}

func TestWriterSingleRankCursorNeverContends(t *testing.T) {
	dm := model.NewDataModel()
	ident := classify.NewIdentifierFinalizer(dm)
	dm.Freeze()

	w := NewWriter(dm, ident, nil, func([]byte) error { return nil }, func([]byte) error { return nil })

	_, err := w.Write(context.Background())
	require.NoError(t, err)

	// A second write on the same single-rank Writer keeps advancing its own
	// cursor rather than erroring or overlapping with the first.
	first := w.cursor.FetchAdd(0)
	_, err = w.Write(context.Background())
	require.NoError(t, err)
	second := w.cursor.FetchAdd(0)
	require.GreaterOrEqual(t, second, first)
}
