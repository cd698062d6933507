// Package records resolves which concrete record constructor the recorder
// uses for new audit entries. Most deployments use the default ChangeRecord
// constructor; hosts that persist an extended record type (extra columns,
// tenant scoping) register their own constructor instead. A constructor that
// returns nil switches recording off entirely, which is how "audit disabled"
// is expressed without sprinkling enable checks through the recorder.
package records

import (
	"errors"
	"fmt"
	"sync"

	"github.com/change-ledger/change-ledger/internal/db/models"
)

// Constructor allocates a fresh record for one operation. Returning nil means
// recording is disabled.
type Constructor func() *models.ChangeRecord

var (
	// ErrNoRecordType is returned when resolution finds no constructor at all.
	ErrNoRecordType = errors.New("records: no record type registered")
	// ErrAmbiguousRecordType is returned when more than one constructor is
	// registered and none was configured explicitly.
	ErrAmbiguousRecordType = errors.New("records: multiple record types registered, configure one explicitly")
)

// Factory resolves and caches the record constructor. Resolution order:
// an explicitly configured constructor wins; otherwise exactly one registered
// constructor must exist. Absence and ambiguity are both fatal configuration
// errors, raised at first use and on every use thereafter.
//
// The resolved constructor is cached after the first successful resolution.
// Racing first resolutions is harmless: every racer computes the same
// deterministic answer.
type Factory struct {
	mu         sync.RWMutex
	explicit   Constructor
	registered map[string]Constructor
	resolved   Constructor
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{registered: make(map[string]Constructor)}
}

// Use configures the constructor explicitly, bypassing registry resolution.
func (f *Factory) Use(c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.explicit = c
	f.resolved = nil
}

// Register adds a named constructor to the resolution set.
func (f *Factory) Register(name string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[name] = c
	f.resolved = nil
}

// New resolves the constructor and allocates a record. A nil record with nil
// error means recording is disabled by the configured constructor.
func (f *Factory) New() (*models.ChangeRecord, error) {
	c, err := f.resolve()
	if err != nil {
		return nil, err
	}
	return c(), nil
}

func (f *Factory) resolve() (Constructor, error) {
	f.mu.RLock()
	if f.resolved != nil {
		c := f.resolved
		f.mu.RUnlock()
		return c, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved != nil {
		return f.resolved, nil
	}

	switch {
	case f.explicit != nil:
		f.resolved = f.explicit
	case len(f.registered) == 1:
		for _, c := range f.registered {
			f.resolved = c
		}
	case len(f.registered) == 0:
		return nil, ErrNoRecordType
	default:
		names := make([]string, 0, len(f.registered))
		for name := range f.registered {
			names = append(names, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousRecordType, names)
	}
	return f.resolved, nil
}

// Default returns a Factory preconfigured with the standard ChangeRecord
// constructor.
func Default() *Factory {
	f := NewFactory()
	f.Register("ChangeRecord", func() *models.ChangeRecord {
		return &models.ChangeRecord{}
	})
	return f
}
