package agent

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Store exposes agent retrieval for HTTP handlers.
type Store interface {
	List() []Agent
	FindByID(id string) (Agent, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Agent
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied agents.
func NewMemoryStore(items []Agent) *MemoryStore {
	return &MemoryStore{items: append([]Agent(nil), items...)}
}

// List returns the configured agents in registry order.
func (s *MemoryStore) List() []Agent {
	out := make([]Agent, len(s.items))
	copy(out, s.items)
	return out
}

// FindByID looks up an agent by identifier.
func (s *MemoryStore) FindByID(id string) (Agent, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Agent{}, false
}

type registryFile struct {
	Agents []Agent `yaml:"agents"`
}

// LoadFile reads an agent registry such as:
//
//	agents:
//	  - id: claude-agent
//	    name: Claude Agent
//	    instructions: Answer clearly.
//	    markdown: true
func LoadFile(path string) ([]Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read agent registry")
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse agent registry %s", path)
	}

	seen := make(map[string]struct{}, len(file.Agents))
	for i := range file.Agents {
		a := &file.Agents[i]
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, errors.Errorf("agent #%d in %s has no id", i+1, path)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, errors.Errorf("duplicate agent id %q in %s", a.ID, path)
		}
		seen[a.ID] = struct{}{}
		if a.Name == "" {
			a.Name = a.ID
		}
	}
	if len(file.Agents) == 0 {
		return nil, errors.Errorf("agent registry %s defines no agents", path)
	}
	return file.Agents, nil
}
