package kcs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryKMS is an in-process KeyManager for tests and development networks.
// Fail injects an error for the named operation.
type MemoryKMS struct {
	mu      sync.Mutex
	next    int
	keys    map[string]*memoryKey
	aliases map[string]string
	Fail    map[string]error
}

type memoryKey struct {
	spec        KeySpec
	pendingDays int
}

func NewMemoryKMS() *MemoryKMS {
	return &MemoryKMS{keys: make(map[string]*memoryKey), aliases: make(map[string]string), Fail: make(map[string]error)}
}

func (m *MemoryKMS) injected(op string) error {
	if err, ok := m.Fail[op]; ok {
		return err
	}
	return nil
}

func (m *MemoryKMS) CreateKey(_ context.Context, spec KeySpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateKey"); err != nil {
		return "", err
	}
	m.next++
	id := fmt.Sprintf("key-%04d", m.next)
	tags := make(map[string]string, len(spec.Tags))
	for k, v := range spec.Tags {
		tags[k] = v
	}
	spec.Tags = tags
	m.keys[id] = &memoryKey{spec: spec}
	return id, nil
}

func (m *MemoryKMS) PointAlias(_ context.Context, alias, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("PointAlias"); err != nil {
		return err
	}
	if _, ok := m.keys[keyID]; !ok {
		return fmt.Errorf("key %s: %w", keyID, ErrNotFound)
	}
	m.aliases[alias] = keyID
	return nil
}

func (m *MemoryKMS) DeleteAlias(_ context.Context, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeleteAlias"); err != nil {
		return err
	}
	if _, ok := m.aliases[alias]; !ok {
		return fmt.Errorf("alias %s: %w", alias, ErrNotFound)
	}
	delete(m.aliases, alias)
	return nil
}

func (m *MemoryKMS) ResolveAlias(_ context.Context, alias string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ResolveAlias"); err != nil {
		return "", err
	}
	id, ok := m.aliases[alias]
	if !ok {
		return "", fmt.Errorf("alias %s: %w", alias, ErrNotFound)
	}
	return id, nil
}

func (m *MemoryKMS) KeyTags(_ context.Context, keyID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("KeyTags"); err != nil {
		return nil, err
	}
	key, ok := m.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", keyID, ErrNotFound)
	}
	out := make(map[string]string, len(key.spec.Tags))
	for k, v := range key.spec.Tags {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryKMS) ScheduleDeletion(_ context.Context, keyID string, days int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ScheduleDeletion"); err != nil {
		return err
	}
	key, ok := m.keys[keyID]
	if !ok {
		return fmt.Errorf("key %s: %w", keyID, ErrNotFound)
	}
	key.pendingDays = days
	return nil
}

func (m *MemoryKMS) CancelDeletion(_ context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[keyID]
	if !ok {
		return fmt.Errorf("key %s: %w", keyID, ErrNotFound)
	}
	key.pendingDays = 0
	return nil
}

func (m *MemoryKMS) ListAliases(context.Context) ([]AliasEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ListAliases"); err != nil {
		return nil, err
	}
	out := make([]AliasEntry, 0, len(m.aliases))
	for alias, id := range m.aliases {
		out = append(out, AliasEntry{Alias: alias, KeyID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

// PendingDeletion reports the scheduled window of keyID, or 0.
func (m *MemoryKMS) PendingDeletion(keyID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[keyID]; ok {
		return key.pendingDays
	}
	return 0
}

// Policy returns the key policy installed on keyID.
func (m *MemoryKMS) Policy(keyID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[keyID]; ok {
		return key.spec.Policy
	}
	return ""
}

// SetTags replaces the tags of keyID.
func (m *MemoryKMS) SetTags(keyID string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[keyID]; ok {
		key.spec.Tags = tags
	}
}

// MemoryParameters is an in-process ParameterStore. Values are kept alongside
// the key id they would be encrypted under.
type MemoryParameters struct {
	mu     sync.Mutex
	values map[string]memoryParam
	Fail   map[string]error
}

type memoryParam struct {
	value string
	keyID string
	tags  map[string]string
}

func NewMemoryParameters() *MemoryParameters {
	return &MemoryParameters{values: make(map[string]memoryParam), Fail: make(map[string]error)}
}

func (p *MemoryParameters) PutSecure(_ context.Context, name, value, keyID string, tags map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Fail["PutSecure"]; ok {
		return err
	}
	p.values[name] = memoryParam{value: value, keyID: keyID, tags: tags}
	return nil
}

func (p *MemoryParameters) GetDecrypted(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Fail["GetDecrypted"]; ok {
		return "", err
	}
	v, ok := p.values[name]
	if !ok {
		return "", fmt.Errorf("parameter %s: %w", name, ErrNotFound)
	}
	return v.value, nil
}

func (p *MemoryParameters) Delete(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Fail["Delete"]; ok {
		return err
	}
	if _, ok := p.values[name]; !ok {
		return fmt.Errorf("parameter %s: %w", name, ErrNotFound)
	}
	delete(p.values, name)
	return nil
}

// Has reports whether name is stored.
func (p *MemoryParameters) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.values[name]
	return ok
}

// EncryptionKey returns the key id name is stored under.
func (p *MemoryParameters) EncryptionKey(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[name].keyID
}
