package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"torrentd/internal/events"
	"torrentd/internal/workflow/expression"
)

// LoadDir parses every *.yml/*.yaml file directly inside dir into a
// Definition. A missing directory yields an empty, non-error result -
// workflows are optional.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workflow: read dir %s: %w", dir, err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("workflow: read %s: %w", path, err)
		}

		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("workflow: %s: %w", path, err)
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// Service binds parsed workflow definitions to an action factory and
// evaluator, and runs every matching definition when an event arrives
// from the Session Supervisor's event bus.
type Service struct {
	defs    []*Definition
	factory ActionFactory
	eval    *expression.Evaluator
	log     zerolog.Logger
}

// NewService builds a Service ready to receive published events.
func NewService(defs []*Definition, factory ActionFactory, eval *expression.Evaluator, log zerolog.Logger) *Service {
	return &Service{defs: defs, factory: factory, eval: eval, log: log}
}

// Subscribe registers the Service against every event name the Session
// Supervisor publishes, so any workflow triggered on that name runs.
func (s *Service) Subscribe(bus *events.Bus) {
	names := []events.Name{
		events.TorrentAdded, events.TorrentPaused, events.TorrentResumed,
		events.TorrentFinished, events.TorrentRemoved, events.StorageMoved,
		events.StateUpdate, events.SessionStats, events.TorrentMediaInfo,
	}
	for _, name := range names {
		name := name
		bus.Subscribe(name, func(payload any) {
			s.handle(string(name), payload)
		})
	}
}

// handle runs every definition whose trigger/condition matches
// (eventName, payload), each on its own goroutine since step actions may
// block and one workflow's run must not stall another's.
func (s *Service) handle(eventName string, payload any) {
	for _, def := range s.defs {
		def := def
		go func() {
			if err := Execute(def, s.factory, eventName, payload, s.eval, s.log); err != nil {
				s.log.Error().Err(err).Str("event", eventName).Msg("workflow run failed")
			}
		}()
	}
}
