package dqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/reorder"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

func TestSamplesDeliveredInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int

	q := New("t1", 8, func(s reorder.Sample) {
		mu.Lock()
		got = append(got, int(s.Seq))
		mu.Unlock()
	}, nil)

	for seq := 1; seq <= 5; seq++ {
		q.EnqueueSample(reorder.Sample{Seq: seqnum.SeqNum(seq)})
	}

	done := make(chan struct{})
	q.EnqueueCallback(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback bubble never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("delivered %d samples, want 5", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("delivered out of order: %v", got)
		}
	}
}

func TestRDGuidBubbleInvokesHandler(t *testing.T) {
	seen := make(chan guid.GUID, 1)
	q := New("t2", 4, nil, func(g guid.GUID) { seen <- g })
	want := guid.New(guid.Prefix{1, 2, 3}, guid.EntityIDFromU32(7))
	q.EnqueueRDGuid(want)

	select {
	case got := <-seen:
		if got != want {
			t.Fatalf("got guid %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RDGUID bubble never delivered")
	}
}

func TestIsFullAndWaitUntilEmpty(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	first := true

	q := New("t3", 1, func(s reorder.Sample) {
		if first {
			first = false
			started.Done()
			<-release
		}
	}, nil)

	q.EnqueueSample(reorder.Sample{Seq: 1})
	started.Wait() // consumer is now blocked inside the handler for seq 1

	q.EnqueueSample(reorder.Sample{Seq: 2}) // fills the one-slot buffer

	if !q.IsFull() {
		t.Fatalf("IsFull() = false, want true with maxDepth=1 and one item already queued")
	}

	waitDone := make(chan struct{})
	go func() {
		q.WaitUntilEmptyIfFull()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		t.Fatal("WaitUntilEmptyIfFull returned before the queue drained")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilEmptyIfFull never returned after drain")
	}
}
