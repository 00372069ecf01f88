// Package tkmap implements the instance map: a content-addressed table from
// serialized key bytes to a refcounted entry carrying a 64-bit monotonic
// instance id, with deferred destruction handed off to gcollect.
//
// Grounded directly on original_source/ddsi_tkmap.c's REFC_DELETE bit
// protocol (ddsi_tkmap_find's retry loop, ddsi_tkmap_instance_unref's CAS
// loop), translated from a concurrent hopscotch hash table to a Go map
// guarded by a mutex plus condition variable.
package tkmap

import (
	"sync"
	"sync/atomic"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/gcollect"
)

const (
	refcDelete uint32 = 0x80000000
	refcMask   uint32 = 0x7fffffff
)

// instanceIDGen is the process-wide strictly monotonic instance-id
// generator (spec.md section 3.6: "Instance ids come from a process-wide
// strictly monotonic generator").
var instanceIDGen uint64

func nextInstanceID() uint64 {
	return atomic.AddUint64(&instanceIDGen, 1)
}

// Instance is one content-addressed entry: a serialized key, its refcount
// (top bit = marked for deletion), and its instance id.
type Instance struct {
	Key  string // serialized key bytes, used verbatim as the Go map key
	IID  uint64
	refc uint32
}

func (tk *Instance) marked() bool {
	return atomic.LoadUint32(&tk.refc)&refcDelete != 0
}

// Map is the per-domain instance map.
type Map struct {
	gc *gcollect.Domain

	mu    sync.Mutex
	cond  *sync.Cond
	table map[string]*Instance
}

// New creates an instance map whose deferred frees are scheduled through gc
// (may be nil, in which case Unref frees synchronously — used in tests).
func New(gc *gcollect.Domain) *Map {
	m := &Map{gc: gc, table: make(map[string]*Instance)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lookup returns the instance id for key, or 0 ("DDS_HANDLE_NIL") if no
// live instance exists (ddsi_tkmap_lookup — a non-owning peek, does not
// touch the refcount).
func (m *Map) Lookup(key []byte) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tk, ok := m.table[string(key)]; ok && !tk.marked() {
		return tk.IID
	}
	return 0
}

// Find returns a referenced Instance for key, creating one if create is
// true and none exists. It spins/blocks (via the condition variable) past
// any instance it witnesses mid-deletion, exactly mirroring
// ddsi_tkmap_find's retry loop, so no caller ever observes a half-deleted
// entry.
func (m *Map) Find(key []byte, create bool) *Instance {
	ks := string(key)
	for {
		m.mu.Lock()
		tk, ok := m.table[ks]
		if ok {
			newRefc := atomic.AddUint32(&tk.refc, 1)
			if newRefc&refcDelete != 0 {
				atomic.AddUint32(&tk.refc, ^uint32(0)) // undo: refc-1
				for {
					cur, stillThere := m.table[ks]
					if !stillThere || !cur.marked() {
						break
					}
					m.cond.Wait()
				}
				m.mu.Unlock()
				continue // retry from the top
			}
			m.mu.Unlock()
			return tk
		}
		if !create {
			m.mu.Unlock()
			return nil
		}
		tk = &Instance{Key: ks, refc: 1, IID: nextInstanceID()}
		m.table[ks] = tk
		m.mu.Unlock()
		return tk
	}
}

// Ref increments an already-held instance's refcount (ddsi_tkmap_instance_ref).
func (m *Map) Ref(tk *Instance) {
	atomic.AddUint32(&tk.refc, 1)
}

// Unref releases one reference. On the 1->0 transition it atomically marks
// the instance deleted, removes it from the table, wakes any Find callers
// blocked behind it, and defers the actual free until GC-quiescence
// (ddsi_tkmap_instance_unref).
func (m *Map) Unref(tk *Instance) {
	for {
		old := atomic.LoadUint32(&tk.refc)
		var next uint32
		if old == 1 {
			next = refcDelete
		} else {
			next = old - 1
		}
		if atomic.CompareAndSwapUint32(&tk.refc, old, next) {
			if next == refcDelete {
				m.mu.Lock()
				delete(m.table, tk.Key)
				m.mu.Unlock()
				m.cond.Broadcast()
				if m.gc != nil {
					m.gc.Defer(func() {})
				}
			}
			return
		}
	}
}

// Len reports the number of live (non-deleted) instances, for tests and
// the capacity-style invariants in spec.md section 8.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tk := range m.table {
		if !tk.marked() {
			n++
		}
	}
	return n
}
