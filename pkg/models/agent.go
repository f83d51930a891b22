package models

// Agent is an immutable worker identity from the static roster.
// Only Active may change after load.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id" yaml:"id"`
	// Name is the display name.
	Name string `json:"name" yaml:"name"`
	// Role is the role tag (e.g. "backend_engineer").
	Role string `json:"role" yaml:"role"`
	// Tools lists the declared tool capabilities.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Temperature is the generation randomness setting for this agent.
	Temperature float64 `json:"temperature" yaml:"temperature"`
	// SystemPrompt is the persona context passed to the oracle.
	SystemPrompt string `json:"-" yaml:"system_prompt"`
	// Active controls whether the scheduler considers this agent.
	Active bool `json:"active" yaml:"active"`
}
