package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// DefinitionStore is satisfied by repository.WorkflowDefinitionRepository.
type DefinitionStore interface {
	Save(ctx context.Context, def *domain.WorkflowDefinition) (string, error)
	FindByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
}

// ParseDefinition decodes a definition from YAML or JSON bytes. ext selects
// the decoder; JSON keeps numbers as float64 like the HTTP API does.
func ParseDefinition(data []byte, ext string) (*domain.WorkflowDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("definition payload is empty")
	}
	var def domain.WorkflowDefinition
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("decode json definition: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("decode yaml definition: %w", err)
		}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition %q: %w", def.Name, err)
	}
	return &def, nil
}

// LoadFile parses a single definition file.
func LoadFile(path string) (*domain.WorkflowDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	def, err := ParseDefinition(content, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir upserts every definition file in dir and returns the ids written.
// A definition without an id keeps the id of the stored definition with the
// same name, so reloading the same files does not create duplicates.
// Files that fail to parse are reported together after the rest are loaded.
func LoadDir(ctx context.Context, store DefinitionStore, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var ids []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := LoadFile(path)
		if err != nil {
			slog.WarnContext(ctx, "Skipping definition file", "file", path, "error", err)
			errs = append(errs, err)
			continue
		}
		if def.ID == "" {
			existing, err := store.FindByName(ctx, def.Name)
			switch {
			case err == nil:
				def.ID = existing.ID
			case !errors.Is(err, engine.ErrDefinitionNotFound):
				return ids, fmt.Errorf("look up definition %q: %w", def.Name, err)
			}
		}
		id, err := store.Save(ctx, def)
		if err != nil {
			return ids, fmt.Errorf("save definition %q: %w", def.Name, err)
		}
		slog.InfoContext(ctx, "Loaded workflow definition", "file", path, "workflow_id", id, "name", def.Name, "steps", len(def.Steps))
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
