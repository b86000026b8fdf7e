package watch

import "sync"

// Fake is an in-memory Watcher for tests.
type Fake struct {
	mu      sync.Mutex
	Watches []*FakeWatch
	Err     error
}

func (f *Fake) Watch(dir string, onChange func(name string)) (Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	w := &FakeWatch{Dir: dir, onChange: onChange}
	f.Watches = append(f.Watches, w)
	return w, nil
}

// Last returns the most recent watch.
func (f *Fake) Last() *FakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Watches) == 0 {
		return nil
	}
	return f.Watches[len(f.Watches)-1]
}

// FakeWatch records releases and lets tests fire change notifications.
type FakeWatch struct {
	Dir      string
	onChange func(string)

	mu       sync.Mutex
	released int
	calls    int
}

// Trigger fires a change notification unless the watch was released.
func (w *FakeWatch) Trigger(name string) {
	w.mu.Lock()
	released := w.released > 0
	w.mu.Unlock()
	if !released {
		w.onChange(name)
	}
}

func (w *FakeWatch) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.released == 0 {
		w.released = 1
	}
	return nil
}

// Released returns the number of effective releases.
func (w *FakeWatch) Released() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}

// ReleaseCalls returns how often Release was called.
func (w *FakeWatch) ReleaseCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}
