package config

import (
	"reflect"
	"sync"

	"vokey/log"
)

// Store is the shared handle to the live settings.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

func NewStore(path string, s Settings) *Store {
	return &Store{path: path, cur: s}
}

// Open loads path (defaults when missing) into a new Store.
func Open(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, s), nil
}

func (st *Store) Path() string { return st.path }

// Get returns a copy.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

// Update applies fn to a copy, validates and persists it, then logs every
// changed field. The live settings are untouched on error.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.cur
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if st.path != "" {
		if err := Save(st.path, next); err != nil {
			return err
		}
	}
	logChanges(st.cur, next)
	st.cur = next
	return nil
}

func logChanges(old, next Settings) {
	ov := reflect.ValueOf(old)
	nv := reflect.ValueOf(next)
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		a, b := ov.Field(i).Interface(), nv.Field(i).Interface()
		if a != b {
			name := t.Field(i).Tag.Get("yaml")
			log.SettingsChanged(name, a, b)
		}
	}
}
