// Package ivyfsnotify is the filesystem-watch convenience wrapper the core
// spec describes only through its external contract (spec §6): an
// Instance wraps a kernel watch queue, Register adds a watch on a
// (pathname, mask) pair, and the handler receives event records carrying a
// watch descriptor, mask, cookie, and name. On a removal-equivalent event,
// or when the registered mask includes Oneshot, the watch is removed from
// the instance's lookup table before its handler runs.
//
// The kernel-watch-queue backend is github.com/fsnotify/fsnotify (the only
// repo in the reference pack that touches filesystem watching). fsnotify
// already runs its own reader goroutine and delivers over Go channels
// rather than exposing a raw descriptor, so this package bridges it into
// ivyloop using the same cross-thread idiom as Event: a background
// goroutine queues deliveries and posts a single per-instance ivyloop.Event
// to hand them off to the owning loop's thread, in order.
package ivyfsnotify

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ivyloop/ivyloop"
)

// Mask describes the kind of change a Watch is interested in, plus the
// ivyloop-specific Oneshot bit (fsnotify itself has no such concept; it is
// implemented entirely in this package, mirroring inotify's IN_ONESHOT).
type Mask uint32

const (
	Create Mask = 1 << iota
	Write
	Remove
	Rename
	Chmod

	// Oneshot causes the watch to be auto-removed after its first
	// delivery, regardless of which bits the delivered event matched.
	Oneshot
)

func maskFromOp(op fsnotify.Op) Mask {
	var m Mask
	if op&fsnotify.Create != 0 {
		m |= Create
	}
	if op&fsnotify.Write != 0 {
		m |= Write
	}
	if op&fsnotify.Remove != 0 {
		m |= Remove
	}
	if op&fsnotify.Rename != 0 {
		m |= Rename
	}
	if op&fsnotify.Chmod != 0 {
		m |= Chmod
	}
	return m
}

// Event is one delivered watch record.
type Event struct {
	WD     int
	Mask   Mask
	Cookie any
	Name   string
}

// Watch is a registered interest in a single path within an Instance.
type Watch struct {
	WD      int
	Path    string
	Mask    Mask
	Handler func(Event)
	Cookie  any

	inst      *Instance
	isDefault bool
}

type pendingDelivery struct {
	handler func(Event)
	payload Event
}

// Instance is one kernel watch queue: an ordered set of watches keyed by
// watch descriptor, plus the fsnotify.Watcher backing it.
type Instance struct {
	loop    *ivyloop.Loop
	watcher *fsnotify.Watcher
	event   *ivyloop.Event

	watchMu sync.Mutex
	byWD    map[int]*Watch
	byPath  map[string]*Watch
	nextWD  int

	pendingMu sync.Mutex
	pending   []pendingDelivery
}

// NewInstance opens a new kernel watch queue bound to loop.
func NewInstance(loop *ivyloop.Loop) (*Instance, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		loop:    loop,
		watcher: w,
		byWD:    make(map[int]*Watch),
		byPath:  make(map[string]*Watch),
	}
	inst.event = ivyloop.NewEvent(loop, inst.drain)

	go inst.readLoop()

	return inst, nil
}

// readLoop is the background goroutine reading fsnotify's channels; it
// never touches loop state directly, only queues deliveries and posts.
func (inst *Instance) readLoop() {
	for {
		select {
		case ev, ok := <-inst.watcher.Events:
			if !ok {
				return
			}
			inst.handleRaw(ev)
		case err, ok := <-inst.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				// Inability to query pending bytes on the watch queue is
				// one of the conditions spec §7 lists as fatal.
				panic(ivyloop.FatalError{Message: "ivyfsnotify: watch queue error: " + err.Error()})
			}
		}
	}
}

func (inst *Instance) handleRaw(ev fsnotify.Event) {
	inst.watchMu.Lock()
	w, ok := inst.byPath[ev.Name]
	if !ok {
		inst.watchMu.Unlock()
		return
	}

	m := maskFromOp(ev.Op)
	ignored := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	if !ignored && m&w.Mask == 0 {
		inst.watchMu.Unlock()
		return
	}
	oneshot := w.Mask&Oneshot != 0
	if ignored || oneshot {
		delete(inst.byWD, w.WD)
		delete(inst.byPath, w.Path)
		inst.tearDownIfEmptyAndDefault(w)
	}
	handler := w.Handler
	payload := Event{WD: w.WD, Mask: m, Cookie: w.Cookie, Name: ev.Name}
	inst.watchMu.Unlock()

	inst.pendingMu.Lock()
	inst.pending = append(inst.pending, pendingDelivery{handler: handler, payload: payload})
	inst.pendingMu.Unlock()

	inst.event.Post()
}

// drain runs on the instance's owning loop, invoking each queued handler in
// delivery order.
func (inst *Instance) drain() {
	inst.pendingMu.Lock()
	batch := inst.pending
	inst.pending = nil
	inst.pendingMu.Unlock()

	for _, d := range batch {
		if d.handler != nil {
			d.handler(d.payload)
		}
	}
}

// Register adds a watch on pathname with the given mask. Registering a
// second watch on the same pathname within the same Instance fails with
// ivyloop.ErrAlreadyRegistered.
func (inst *Instance) Register(pathname string, mask Mask, handler func(Event), cookie any) (*Watch, error) {
	inst.watchMu.Lock()
	if _, exists := inst.byPath[pathname]; exists {
		inst.watchMu.Unlock()
		return nil, ivyloop.ErrAlreadyRegistered
	}
	if err := inst.watcher.Add(pathname); err != nil {
		inst.watchMu.Unlock()
		return nil, err
	}

	inst.nextWD++
	w := &Watch{WD: inst.nextWD, Path: pathname, Mask: mask, Handler: handler, Cookie: cookie, inst: inst}
	inst.byWD[w.WD] = w
	inst.byPath[pathname] = w
	inst.watchMu.Unlock()

	return w, nil
}

func (inst *Instance) watchCount() int {
	inst.watchMu.Lock()
	defer inst.watchMu.Unlock()
	return len(inst.byWD)
}

// Unregister removes w. Calling Unregister twice is a programmer error and
// panics, matching the rest of ivyloop's handle types.
func (w *Watch) Unregister() error {
	inst := w.inst

	inst.watchMu.Lock()
	if _, ok := inst.byWD[w.WD]; !ok {
		inst.watchMu.Unlock()
		panic("ivyfsnotify: unregister of an already-unregistered watch")
	}
	delete(inst.byWD, w.WD)
	delete(inst.byPath, w.Path)
	inst.tearDownIfEmptyAndDefault(w)
	inst.watchMu.Unlock()

	return inst.watcher.Remove(w.Path)
}

// Close releases the instance's kernel watch queue: it cancels any
// undelivered post of the instance's event and closes the fsnotify
// watcher, which ends the readLoop goroutine.
func (inst *Instance) Close() error {
	inst.event.Cancel()
	return inst.watcher.Close()
}

var (
	defaultMu   sync.Mutex
	defaultInst *Instance
)

// RegisterDefault registers pathname against a lazily created, per-process
// default Instance bound to loop on first use. The default instance is
// torn down automatically once its last watch is removed (spec §6).
func RegisterDefault(loop *ivyloop.Loop, pathname string, mask Mask, handler func(Event), cookie any) (*Watch, error) {
	defaultMu.Lock()
	if defaultInst == nil {
		inst, err := NewInstance(loop)
		if err != nil {
			defaultMu.Unlock()
			return nil, err
		}
		defaultInst = inst
	}
	inst := defaultInst
	defaultMu.Unlock()

	w, err := inst.Register(pathname, mask, handler, cookie)
	if err != nil {
		return nil, err
	}
	w.isDefault = true
	return w, nil
}

// tearDownIfEmptyAndDefault closes and clears the shared default instance
// once its last watch is gone. Called with inst.watchMu already held.
func (inst *Instance) tearDownIfEmptyAndDefault(w *Watch) {
	if !w.isDefault || len(inst.byWD) != 0 {
		return
	}
	defaultMu.Lock()
	if defaultInst == inst {
		defaultInst = nil
	}
	defaultMu.Unlock()
	go func() {
		_ = inst.Close()
	}()
}
