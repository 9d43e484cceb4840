package polymix

import "sync"

// atomicError keeps the first error stored into it. Device backends latch
// asynchronous stream failures here and surface them through Stream.Status.
type atomicError struct {
	err error
	m   sync.Mutex
}

func (a *atomicError) TryStore(err error) {
	a.m.Lock()
	defer a.m.Unlock()
	if a.err == nil {
		a.err = err
	}
}

func (a *atomicError) Load() error {
	a.m.Lock()
	defer a.m.Unlock()
	return a.err
}
