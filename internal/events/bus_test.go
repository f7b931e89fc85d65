package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

func pending(ch <-chan Event) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func captured(id string) Event {
	return NewReportTransitionEvent(TypeReportCaptured, id, "", "active")
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(captured("r-1"))

	ev := receive(t, ch)
	if ev.EventType() != TypeReportCaptured || ev.ReportID() != "r-1" {
		t.Errorf("got %s for %q", ev.EventType(), ev.ReportID())
	}
}

func TestEventBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	uploads := bus.Subscribe(TypeReportUploaded, TypeReportUploadFailed)
	all := bus.Subscribe()

	bus.Publish(NewReportTransitionEvent(TypeReportPackaged, "r-1", "processing", "packaged"))
	bus.Publish(NewReportTransitionEvent(TypeReportUploaded, "r-1", "uploading", "uploaded"))

	if n := pending(all); n != 2 {
		t.Errorf("unfiltered subscriber got %d events, want 2", n)
	}
	if ev := receive(t, uploads); ev.EventType() != TypeReportUploaded {
		t.Errorf("filtered subscriber got %s", ev.EventType())
	}
	if n := pending(uploads); n != 0 {
		t.Errorf("filtered subscriber got %d extra events", n)
	}
}

func TestEventBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	priority := bus.SubscribePriority()
	for i := 0; i < 100; i++ {
		bus.Publish(captured("r-1"))
	}
	bus.PublishPriority(NewConsentRevokedEvent("tok-1", 3))

	if ev := receive(t, priority); ev.EventType() != TypeConsentRevoked {
		t.Errorf("priority subscriber got %s", ev.EventType())
	}
}

func TestEventBus_FullBufferDropsOldest(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 0; i < 10; i++ {
		bus.Publish(captured(string(rune('a' + i))))
	}

	if got := bus.DroppedCount(); got != 5 {
		t.Errorf("DroppedCount() = %d, want 5", got)
	}
	if first := receive(t, ch); first.ReportID() != "f" {
		t.Errorf("oldest kept event is %q, want f", first.ReportID())
	}
	if n := pending(ch); n != 4 {
		t.Errorf("%d events left, want 4", n)
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	ch := bus.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewReportEnqueuedEvent("r-1", j%2 == 0, j))
			}
		}()
	}
	wg.Wait()

	got := pending(ch)
	if int64(got)+bus.DroppedCount() != 1000 {
		t.Errorf("received %d and dropped %d, want 1000 in total", got, bus.DroppedCount())
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	gone := bus.Subscribe()
	kept := bus.Subscribe()
	bus.Unsubscribe(gone)
	bus.Unsubscribe(gone)

	if _, ok := <-gone; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	bus.Publish(captured("r-2"))
	if ev := receive(t, kept); ev.ReportID() != "r-2" {
		t.Errorf("remaining subscriber got %q", ev.ReportID())
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := New(10)
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()

	bus.Publish(NewReportPurgedEvent("r-1", "packaged", "admin"))
	bus.PublishPriority(NewConsentRevokedEvent("", 0))

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
}

func TestEventBus_SubscribeOnClosedBus(t *testing.T) {
	bus := New(10)
	bus.Close()

	if _, ok := <-bus.Subscribe(); ok {
		t.Error("subscription on a closed bus should be closed")
	}
	if _, ok := <-bus.SubscribePriority(); ok {
		t.Error("priority subscription on a closed bus should be closed")
	}
}

func TestNewReportUploadFailedEvent(t *testing.T) {
	e := NewReportUploadFailedEvent("r-9", 2, errors.New("503 service unavailable"), true)

	if e.EventType() != TypeReportUploadFailed {
		t.Errorf("unexpected type %s", e.EventType())
	}
	if e.Error != "503 service unavailable" || !e.Retryable || e.Attempt != 2 {
		t.Errorf("unexpected event %+v", e)
	}

	if e := NewReportUploadFailedEvent("r-9", 1, nil, false); e.Error != "" {
		t.Errorf("expected empty error message, got %q", e.Error)
	}
}
