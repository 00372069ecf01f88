package gcollect

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDeferRunsImmediatelyWithNoAwakeThreads(t *testing.T) {
	d := New(nil, nil)
	defer d.Shutdown()

	done := make(chan struct{})
	d.Defer(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback with an empty snapshot never ran")
	}
}

func TestDeferWaitsForAwakeThreadToSleep(t *testing.T) {
	d := New(nil, nil)
	defer d.Shutdown()

	ts := d.Register()
	ts.Awake()

	ran := int32(0)
	d.Defer(func() { atomic.StoreInt32(&ran, 1) })

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("callback ran while a snapshotted thread was still awake")
	}

	ts.Asleep()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&ran) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("callback never ran after the thread went to sleep")
}

func TestDeregisteredThreadCountsAsGone(t *testing.T) {
	d := New(nil, nil)
	defer d.Shutdown()

	ts := d.Register()
	ts.Awake()
	d.Deregister(ts) // leaves without ever calling Asleep

	done := make(chan struct{})
	d.Defer(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran for a thread that left the domain")
	}
}

func TestDrainBlocksUntilQueueEmpty(t *testing.T) {
	d := New(nil, nil)
	defer d.Shutdown()

	for i := 0; i < 5; i++ {
		d.Defer(func() {})
	}
	d.Drain()
}

func TestLeaseCheckInvokedPeriodically(t *testing.T) {
	var calls int32
	d := New(nil, func(now time.Time) time.Duration {
		atomic.AddInt32(&calls, 1)
		return time.Millisecond
	})
	defer d.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) >= 3 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("leaseCheck was not invoked at least 3 times")
}
