package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccprof/profbuild/model"
)

// fakeSource emits one Thread with a single sample at the root Context,
// exactly once regardless of how many wavefronts invoke Read (Read must be
// idempotent per spec §8).
type fakeSource struct {
	mu    sync.Mutex
	done  bool
	calls int
}

func (s *fakeSource) Provides() model.DataClass { return model.ClassAll }
func (s *fakeSource) FinalizeRequest(req model.DataClass) model.DataClass {
	return model.FinalizeRequest(req)
}
func (s *fakeSource) Name() string { return "fakeSource" }

func (s *fakeSource) Read(ctx context.Context, req model.DataClass, n *Notifier) error {
	s.mu.Lock()
	s.calls++
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.mu.Unlock()

	th, temp, dup := n.InternThread(model.IdentifierTuple{{Kind: model.KindThread, Physical: 1, Logical: 1}})
	if dup {
		return nil
	}
	mod := n.InternModule("/bin/a.out")
	leaf := n.Context(n.Root(), model.RelCall, model.PointScope(mod, 0x10))

	metric := n.ThawMetric(model.MetricKey{Name: "cycles", Scopes: model.ScopePointVariant}, "cycles", model.ShowDefault)
	n.FreezeMetric(metric)

	n.AddValue(temp, leaf, metric, 7)
	_ = th
	return nil
}

type fakeSink struct {
	mu                sync.Mutex
	finalizedCount    int
	finalizedContexts int
	writeCalled       bool
	contextsSeen      int
	metricsSeen       int
}

func (s *fakeSink) Accepts() model.DataClass    { return model.ClassAll }
func (s *fakeSink) Wavefronts() model.DataClass { return model.ClassAll }
func (s *fakeSink) Requires() model.ExtensionClass { return model.ExtNone }
func (s *fakeSink) Name() string                   { return "fakeSink" }
func (s *fakeSink) NotifyPipeline(*model.DataModel) {}
func (s *fakeSink) NotifyWavefront(model.DataClass) {}
func (s *fakeSink) NotifyThread(*model.Thread)      {}
func (s *fakeSink) NotifyThreadFinal(tt *model.ThreadTemporary) {
	// tt.Clear() runs immediately after every sink's NotifyThreadFinal
	// returns (spec run phase 6), so anything worth asserting on later
	// must be read out now rather than from a retained *ThreadTemporary.
	ctxs := tt.Contexts()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizedCount++
	s.finalizedContexts = len(ctxs)
}
func (s *fakeSink) NotifyContext(*model.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextsSeen++
}
func (s *fakeSink) NotifyContextExpansion(*model.Context, model.NestedScope, *model.Context) {}
func (s *fakeSink) NotifyMetric(*model.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsSeen++
}
func (s *fakeSink) NotifyTimepoint(*model.Thread, *model.Context, uint64) TimepointAction {
	return TimepointContinue
}
func (s *fakeSink) Write(ctx context.Context) (*WorkTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalled = true
	return &WorkTicket{Completed: true}, nil
}

func TestEngineRunDrivesSourceThroughSinkEndToEnd(t *testing.T) {
	dm := model.NewDataModel()
	eng := New(Config{TeamSize: 2}, dm)

	src := &fakeSource{}
	sink := &fakeSink{}
	eng.AddSource(src)
	eng.AddSink(sink)

	require.NoError(t, eng.Bind(model.ClassAll))

	err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sink.writeCalled)
	assert.Equal(t, 1, sink.finalizedCount)
	assert.Equal(t, 1, sink.finalizedContexts)
	assert.Greater(t, src.calls, 0)
	assert.Greater(t, sink.contextsSeen, 0)
	assert.Equal(t, 1, sink.metricsSeen)
}

func TestEngineBindRejectsUnsatisfiedSinkRequirement(t *testing.T) {
	dm := model.NewDataModel()
	eng := New(Config{TeamSize: 1}, dm)
	eng.AddSink(&requiringSink{fakeSink: fakeSink{}})

	err := eng.Bind(model.ClassAll)
	assert.Error(t, err)
}

type requiringSink struct {
	fakeSink
}

func (s *requiringSink) Requires() model.ExtensionClass { return model.ExtIdentifier }

func TestEngineBindTwiceErrors(t *testing.T) {
	dm := model.NewDataModel()
	eng := New(Config{TeamSize: 1}, dm)
	require.NoError(t, eng.Bind(model.ClassAll))
	assert.Error(t, eng.Bind(model.ClassAll))
}

func TestEngineRunBeforeBindErrors(t *testing.T) {
	dm := model.NewDataModel()
	eng := New(Config{TeamSize: 1}, dm)
	assert.Error(t, eng.Run(context.Background()))
}
