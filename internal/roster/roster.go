// Package roster loads and serves the static agent roster.
// Identities are immutable after load; only the active flag may change,
// either programmatically or by editing the roster file on disk.
package roster

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/foremanhq/foreman/pkg/models"
)

// Roster is the fixed set of agents the scheduler drives.
type Roster struct {
	agents map[string]*models.Agent
	order  []string
	mu     sync.RWMutex
}

// rosterFile is the on-disk YAML shape.
type rosterFile struct {
	Agents []models.Agent `yaml:"agents"`
}

// Load reads a roster from the YAML file at path. An empty path returns
// the embedded default roster.
func Load(path string) (*Roster, error) {
	if path == "" {
		return fromAgents(defaultAgents())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if len(rf.Agents) == 0 {
		return nil, fmt.Errorf("roster %s contains no agents", path)
	}
	return fromAgents(rf.Agents)
}

func fromAgents(agents []models.Agent) (*Roster, error) {
	r := &Roster{agents: make(map[string]*models.Agent, len(agents))}
	for i := range agents {
		a := agents[i]
		if a.ID == "" {
			return nil, fmt.Errorf("roster agent %d has no id", i)
		}
		if _, dup := r.agents[a.ID]; dup {
			return nil, fmt.Errorf("duplicate roster agent id %q", a.ID)
		}
		r.agents[a.ID] = &a
		r.order = append(r.order, a.ID)
	}
	return r, nil
}

// Get returns the agent with the given id, or nil.
func (r *Roster) Get(id string) *models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// All returns every agent in roster order.
func (r *Roster) All() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Active returns every active agent in roster order.
func (r *Roster) Active() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Agent
	for _, id := range r.order {
		if a := r.agents[id]; a.Active {
			out = append(out, a)
		}
	}
	return out
}

// SetActive toggles an agent's active flag. Returns false for unknown ids.
func (r *Roster) SetActive(id string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	a.Active = active
	return true
}

// Panel returns the first n agents in roster order, active or not.
// The vote panel is fixed-size and deterministic.
func (r *Roster) Panel(n int) []*models.Agent {
	all := r.All()
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// Size returns the roster size.
func (r *Roster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// applyActiveFlags copies active flags from a freshly parsed roster file
// onto the live roster. Identities never change after load, so a reload
// only moves the one mutable bit.
func (r *Roster) applyActiveFlags(agents []models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range agents {
		if a, ok := r.agents[agents[i].ID]; ok {
			a.Active = agents[i].Active
		}
	}
}

// IDs returns all agent ids, sorted.
func (r *Roster) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
