package progress

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed backup.schema.json
var backupSchemaJSON []byte

const backupSchemaURL = "backup.schema.json"

var (
	backupSchemaOnce sync.Once
	backupSchema     *jsonschema.Schema
	backupSchemaErr  error
)

func compiledBackupSchema() (*jsonschema.Schema, error) {
	backupSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(backupSchemaJSON))
		if err != nil {
			backupSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(backupSchemaURL, doc); err != nil {
			backupSchemaErr = err
			return
		}
		backupSchema, backupSchemaErr = compiler.Compile(backupSchemaURL)
	})
	return backupSchema, backupSchemaErr
}

// ExportFileName is the download name for a backup taken at t.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("monocle-backup-%s.json", t.Format(dayLayout))
}

// Export returns the stored blob. Backends that keep raw bytes hand them
// back as written; otherwise the current state is encoded.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if raw, ok := s.backend.(RawStateBackend); ok {
		data, err := raw.LoadRaw()
		if err != nil {
			return nil, err
		}
		if data != nil {
			return data, nil
		}
	}
	return json.Marshal(PersistedState{State: s.state, Version: 0})
}

// ValidateBackup checks that data is a progress blob carrying a numeric
// state.level and decodes it.
func ValidateBackup(data []byte) (*PersistedState, error) {
	schema, err := compiledBackupSchema()
	if err != nil {
		return nil, fmt.Errorf("compile backup schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	var snapshot PersistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return &snapshot, nil
}

// Import replaces local state with a backup blob. A blob that fails
// validation leaves state untouched.
func (s *Store) Import(data []byte) error {
	snapshot, err := ValidateBackup(data)
	if err != nil {
		return err
	}
	imported := snapshot.State.normalize()
	return s.mutate("import", func(state *State) error {
		*state = imported
		return nil
	})
}
