package queue

import (
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func report(id string, secs int) core.Report {
	return core.Report{
		ID:        core.ReportID(id),
		State:     core.StatePackaged,
		Path:      "/reports/packaged/" + id,
		CreatedAt: t0.Add(time.Duration(secs) * time.Second),
	}
}

func mustDequeue(t *testing.T, s *Scheduler) Entry {
	t.Helper()
	e, ok := s.DequeueNext()
	require.True(t, ok, "expected an entry")
	return e
}

func TestDequeueNext_EmptyQueue(t *testing.T) {
	s := NewScheduler(1)
	_, ok := s.DequeueNext()
	assert.False(t, ok)
}

func TestDequeueNext_UrgentBeforeNormal(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("normal", 1), false)
	s.Enqueue(report("urgent", 2), true)

	e := mustDequeue(t, s)
	assert.Equal(t, core.ReportID("urgent"), e.ID)
	assert.True(t, e.Urgent)
}

func TestDequeueNext_NormalInCreationOrder(t *testing.T) {
	s := NewScheduler(1)
	// Arrival order differs from creation order.
	s.Enqueue(report("second", 2), false)
	s.Enqueue(report("first", 1), false)

	e := mustDequeue(t, s)
	assert.Equal(t, core.ReportID("first"), e.ID)
	s.Release(e.ID)

	e = mustDequeue(t, s)
	assert.Equal(t, core.ReportID("second"), e.ID)
}

func TestDequeueNext_UrgentFIFOWithinClass(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("u2", 20), true)
	s.Enqueue(report("u1", 10), true)
	s.Enqueue(report("n0", 0), false)

	var order []core.ReportID
	for i := 0; i < 3; i++ {
		e := mustDequeue(t, s)
		order = append(order, e.ID)
		s.Release(e.ID)
	}
	assert.Equal(t, []core.ReportID{"u1", "u2", "n0"}, order)
}

func TestSingleSlot_BlocksSecondDequeue(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("a", 1), false)
	s.Enqueue(report("b", 2), true)

	first := mustDequeue(t, s)
	assert.Equal(t, core.ReportID("b"), first.ID)

	_, ok := s.DequeueNext()
	assert.False(t, ok, "single slot must not dispatch a second upload")

	s.Release(first.ID)
	assert.Equal(t, core.ReportID("a"), mustDequeue(t, s).ID)
}

func TestSingleSlot_UrgentWaitsForNormalInFlight(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("normal", 1), false)
	mustDequeue(t, s)

	s.Enqueue(report("urgent", 2), true)
	_, ok := s.DequeueNext()
	assert.False(t, ok, "no fast path with a single slot")
}

func TestMultiSlot_UrgentFastPath(t *testing.T) {
	s := NewScheduler(2)
	s.Enqueue(report("n1", 1), false)
	s.Enqueue(report("n2", 2), false)

	assert.Equal(t, core.ReportID("n1"), mustDequeue(t, s).ID)

	_, ok := s.DequeueNext()
	assert.False(t, ok, "last slot is reserved for urgent reports")

	s.Enqueue(report("u1", 3), true)
	assert.Equal(t, core.ReportID("u1"), mustDequeue(t, s).ID)
	assert.Equal(t, 2, s.InFlight())

	s.Enqueue(report("u2", 4), true)
	_, ok = s.DequeueNext()
	assert.False(t, ok, "all slots occupied")
}

func TestMultiSlot_UrgentCanUseEverySlot(t *testing.T) {
	s := NewScheduler(3)
	for i, id := range []string{"u1", "u2", "u3"} {
		s.Enqueue(report(id, i), true)
	}
	for i := 0; i < 3; i++ {
		mustDequeue(t, s)
	}
	assert.Equal(t, 3, s.InFlight())
}

func TestEnqueue_Deduplicates(t *testing.T) {
	s := NewScheduler(1)
	assert.True(t, s.Enqueue(report("a", 1), false))
	assert.False(t, s.Enqueue(report("a", 1), false))
	assert.Equal(t, 1, s.Len())

	e := mustDequeue(t, s)
	assert.False(t, s.Enqueue(report("a", 1), false), "in-flight report must not be queued again")

	s.Release(e.ID)
	assert.True(t, s.Enqueue(report("a", 1), false), "released report may be re-enqueued")
}

func TestEnqueue_PromotesToUrgent(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("old", 1), false)
	s.Enqueue(report("promoted", 2), false)

	assert.True(t, s.Enqueue(report("promoted", 2), true))
	assert.False(t, s.Enqueue(report("promoted", 2), false), "demotion is ignored")

	assert.Equal(t, core.ReportID("promoted"), mustDequeue(t, s).ID)
}

func TestRemove_DropsPending(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("a", 1), false)
	s.Enqueue(report("b", 2), true)

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Equal(t, core.ReportID("a"), mustDequeue(t, s).ID)
}

func TestRelease_UnknownIsNoop(t *testing.T) {
	s := NewScheduler(1)
	s.Release("nope")
	assert.Equal(t, 0, s.InFlight())
}

func TestClear_KeepsInFlight(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("a", 1), false)
	s.Enqueue(report("b", 2), false)
	mustDequeue(t, s)

	assert.Equal(t, 1, s.Clear())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 1, s.InFlight())
}

type fakeLister struct {
	reports []core.Report
	errs    []error
}

func (f fakeLister) List(state core.State) iter.Seq2[core.Report, error] {
	return func(yield func(core.Report, error) bool) {
		if state != core.StatePackaged {
			return
		}
		for _, r := range f.reports {
			if !yield(r, nil) {
				return
			}
		}
		for _, err := range f.errs {
			if !yield(core.Report{}, err) {
				return
			}
		}
	}
}

func TestSeed_RestoresPackagedReportsInOrder(t *testing.T) {
	urgent := report("r2", 2)
	urgent.Urgent = true
	src := fakeLister{reports: []core.Report{report("r1", 1), urgent, report("r3", 3)}}

	s := NewScheduler(1)
	n, err := s.Seed(src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pending := s.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, core.ReportID("r2"), pending[0].ID, "persisted urgency survives restart")
	assert.Equal(t, core.ReportID("r1"), pending[1].ID)
	assert.Equal(t, core.ReportID("r3"), pending[2].ID)
}

func TestSeed_JoinsListErrors(t *testing.T) {
	src := fakeLister{
		reports: []core.Report{report("ok", 1)},
		errs:    []error{errors.New("corrupt meta")},
	}
	s := NewScheduler(1)
	n, err := s.Seed(src)

	assert.Equal(t, 1, n)
	assert.ErrorContains(t, err, "corrupt meta")
}

func TestReady_SignaledOnEnqueueAndRelease(t *testing.T) {
	s := NewScheduler(1)
	s.Enqueue(report("a", 1), false)

	select {
	case <-s.Ready():
	default:
		t.Fatal("expected ready signal after enqueue")
	}

	e := mustDequeue(t, s)
	s.Release(e.ID)
	select {
	case <-s.Ready():
	default:
		t.Fatal("expected ready signal after release")
	}
}

func TestStats(t *testing.T) {
	s := NewScheduler(2)
	s.Enqueue(report("n1", 1), false)
	s.Enqueue(report("n2", 2), false)
	s.Enqueue(report("u1", 3), true)

	st := s.Stats()
	assert.Equal(t, Stats{Urgent: 1, Normal: 2, Slots: 2, OldestNormal: t0.Add(time.Second)}, st)
}

func TestNewScheduler_DefaultSlots(t *testing.T) {
	assert.Equal(t, DefaultSlots, NewScheduler(0).Slots())
	assert.Equal(t, DefaultSlots, NewScheduler(-3).Slots())
}
