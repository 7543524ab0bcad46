package odesys

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrSystemExists   = errors.New("ode system already registered")
	ErrSystemNotFound = errors.New("ode system not found")
)

var systemRegistry = struct {
	mu sync.RWMutex
	m  map[string]System
}{
	m: make(map[string]System),
}

func init() {
	MustRegister(LotkaVolterra{})
	MustRegister(LinearDecay{})
}

func Register(sys System) error {
	if sys == nil {
		return errors.New("ode system is required")
	}
	name := sys.Name()
	if name == "" {
		return errors.New("ode system name is required")
	}

	systemRegistry.mu.Lock()
	defer systemRegistry.mu.Unlock()
	if _, ok := systemRegistry.m[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrSystemExists)
	}
	systemRegistry.m[name] = sys
	return nil
}

func MustRegister(sys System) {
	if err := Register(sys); err != nil {
		panic(err)
	}
}

func Lookup(name string) (System, error) {
	systemRegistry.mu.RLock()
	defer systemRegistry.mu.RUnlock()
	sys, ok := systemRegistry.m[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrSystemNotFound)
	}
	return sys, nil
}

func Names() []string {
	systemRegistry.mu.RLock()
	defer systemRegistry.mu.RUnlock()
	names := make([]string, 0, len(systemRegistry.m))
	for name := range systemRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
