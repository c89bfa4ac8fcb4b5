// Package memmodule contains a reference-counted memory module handle.
package memmodule

import (
	"fmt"
	"sync"

	"github.com/sunrisecam/streamcore/pkg/liberrors"
)

// Stats are memory module statistics.
type Stats struct {
	References  int
	LiveBuffers int
	LiveBytes   int
}

// Module is a handle to a memory allocator shared by several users.
// Each user retains the module and releases it when it doesn't need it anymore.
// The module is closed when the last reference is released.
type Module struct {
	onClose func()

	mutex     sync.Mutex
	refs      int
	live      map[*byte]int
	liveBytes int
}

// Open opens a memory module. The returned handle holds one reference.
// onClose is optional and is called when the last reference is released.
func Open(onClose func()) *Module {
	return &Module{
		onClose: onClose,
		refs:    1,
		live:    make(map[*byte]int),
	}
}

// Retain adds a reference.
func (m *Module) Retain() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.refs == 0 {
		return liberrors.ErrModuleClosed{}
	}

	m.refs++
	return nil
}

// Release removes a reference.
func (m *Module) Release() error {
	m.mutex.Lock()

	if m.refs == 0 {
		m.mutex.Unlock()
		return liberrors.ErrModuleClosed{}
	}

	m.refs--
	closing := m.refs == 0
	if closing {
		m.live = make(map[*byte]int)
		m.liveBytes = 0
	}

	m.mutex.Unlock()

	if closing && m.onClose != nil {
		m.onClose()
	}

	return nil
}

// Alloc allocates a zeroed buffer.
func (m *Module) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size: %d", size)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.refs == 0 {
		return nil, liberrors.ErrModuleClosed{}
	}

	buf := make([]byte, size)
	m.live[&buf[0]] = size
	m.liveBytes += size

	return buf, nil
}

// Free returns a buffer to the module.
func (m *Module) Free(buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.refs == 0 {
		return liberrors.ErrModuleClosed{}
	}

	if cap(buf) == 0 {
		return liberrors.ErrUnknownBuffer{}
	}

	key := &buf[:1][0]
	size, ok := m.live[key]
	if !ok {
		return liberrors.ErrUnknownBuffer{}
	}

	delete(m.live, key)
	m.liveBytes -= size

	return nil
}

// Stats returns module statistics.
func (m *Module) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return Stats{
		References:  m.refs,
		LiveBuffers: len(m.live),
		LiveBytes:   m.liveBytes,
	}
}
