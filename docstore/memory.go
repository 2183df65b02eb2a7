package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Memory is an in-memory store, e.g. for tests and dry runs.
type Memory struct {
	Schema *Schema
	mu     sync.Mutex
	docs   map[string]Document
}

// NewMemory returns an empty store.
func NewMemory(schema *Schema) *Memory {
	return &Memory{Schema: schema, docs: make(map[string]Document)}
}

func (m *Memory) Create(_ context.Context, id string, doc Document) error {
	if err := m.Schema.Validate(doc, false); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrExists)
	}
	m.docs[id] = copyDoc(doc, id)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return copyDoc(doc, id), nil
}

// Find returns documents whose fields equal all query values.
func (m *Memory) Find(_ context.Context, query map[string]any) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Document
	for _, id := range m.sortedIDs() {
		doc := m.docs[id]
		ok := true
		for k, v := range query {
			if !reflect.DeepEqual(doc[k], v) {
				ok = false
				break
			}
		}
		if ok {
			result = append(result, copyDoc(doc, id))
		}
	}
	return result, nil
}

func (m *Memory) Update(_ context.Context, id string, fields map[string]any) error {
	if err := m.Schema.Validate(fields, true); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]Document, error) {
	return m.Find(ctx, nil)
}

func (m *Memory) sortedIDs() []string {
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyDoc(doc Document, id string) Document {
	c := make(Document, len(doc)+1)
	for k, v := range doc {
		c[k] = v
	}
	c["_id"] = id
	return c
}

var _ Store = (*Memory)(nil)
