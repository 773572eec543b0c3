package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nestfs/nest"
)

var fixtureTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// MockContainer implements nest.Container over in-memory fixtures. It
// counts lookups and opens so tests can assert on access patterns.
type MockContainer struct {
	name     string
	location string
	rootPath string

	mu         sync.Mutex
	size       int64
	sizeSet    bool
	entries    map[string]*nest.Entry
	content    map[string][]byte
	nested     map[string]*MockContainer
	nilStreams map[string]bool

	openErr       error
	openNestedErr error

	lookups     map[string]int
	nestedOpens map[string]int
	opens       map[string]int
}

// NewMockContainer returns an empty container. location must end with the
// nested-path separator; rootPath is the backing file path reported for
// permission construction.
func NewMockContainer(name, location, rootPath string) *MockContainer {
	return &MockContainer{
		name:        name,
		location:    location,
		rootPath:    rootPath,
		entries:     make(map[string]*nest.Entry),
		content:     make(map[string][]byte),
		nested:      make(map[string]*MockContainer),
		nilStreams:  make(map[string]bool),
		lookups:     make(map[string]int),
		nestedOpens: make(map[string]int),
		opens:       make(map[string]int),
	}
}

// AddEntry registers an entry holding the given content.
func (m *MockContainer) AddEntry(name string, content []byte) *nest.Entry {
	entry := &nest.Entry{
		Name:           name,
		Size:           int64(len(content)),
		CompressedSize: int64(len(content)),
		ModTime:        fixtureTime,
		Mode:           0o644,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = entry
	m.content[name] = content
	return entry
}

// AddNested registers an entry that opens as the given nested container.
func (m *MockContainer) AddNested(name string, nested *MockContainer) *nest.Entry {
	entry := m.AddEntry(name, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nested[name] = nested
	return entry
}

// FailOpen makes every Open call return err.
func (m *MockContainer) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// FailOpenNested makes every OpenNested call return err.
func (m *MockContainer) FailOpenNested(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openNestedErr = err
}

// NilStream makes Open return a nil reader and nil error for name.
func (m *MockContainer) NilStream(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nilStreams[name] = true
}

// SetSize overrides the reported container size. Without an override the
// size is the sum of all entry content lengths.
func (m *MockContainer) SetSize(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = size
	m.sizeSet = true
}

// Lookup implements nest.Container.
func (m *MockContainer) Lookup(name string) (*nest.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[name]++
	entry, ok := m.entries[name]
	return entry, ok
}

// OpenNested implements nest.Container.
func (m *MockContainer) OpenNested(_ context.Context, entry *nest.Entry) (nest.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nestedOpens[entry.Name]++
	if m.openNestedErr != nil {
		return nil, m.openNestedErr
	}
	nested, ok := m.nested[entry.Name]
	if !ok {
		return nil, fmt.Errorf("testutil: entry %q is not a container", entry.Name)
	}
	return nested, nil
}

// Open implements nest.Container.
func (m *MockContainer) Open(_ context.Context, entry *nest.Entry) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[entry.Name]++
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.nilStreams[entry.Name] {
		return nil, nil
	}
	content, ok := m.content[entry.Name]
	if !ok {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Size implements nest.Container.
func (m *MockContainer) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sizeSet {
		return m.size
	}
	var total int64
	for _, content := range m.content {
		total += int64(len(content))
	}
	return total
}

// Name implements nest.Container.
func (m *MockContainer) Name() string { return m.name }

// Location implements nest.Container.
func (m *MockContainer) Location() string { return m.location }

// RootPath implements nest.Container.
func (m *MockContainer) RootPath() string { return m.rootPath }

// Lookups returns how many times name was looked up.
func (m *MockContainer) Lookups(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups[name]
}

// TotalLookups returns the number of Lookup calls across all names.
func (m *MockContainer) TotalLookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int
	for _, n := range m.lookups {
		total += n
	}
	return total
}

// NestedOpens returns how many times name was opened as a container.
func (m *MockContainer) NestedOpens(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nestedOpens[name]
}

// Opens returns how many times a byte stream was opened for name.
func (m *MockContainer) Opens(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[name]
}
