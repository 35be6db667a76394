package a2a

import "time"

// AgentStatus is the registry state of an agent.
type AgentStatus string

const (
	AgentActive     AgentStatus = "active"
	AgentInactive   AgentStatus = "inactive"
	AgentDeprecated AgentStatus = "deprecated"
)

// InputSpec describes a named input an agent reads from the task context.
type InputSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// OutputSpec describes the artifact an agent produces.
type OutputSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// AgentEndpoints lists the per-agent HTTP endpoints advertised for
// external introspection.
type AgentEndpoints struct {
	Capabilities string `json:"capabilities"`
	Health       string `json:"health"`
}

// AgentCard is the machine-readable declaration of an agent's identity,
// inputs, outputs, version, endpoints, and protocols. One active version
// per agent type at a time.
type AgentCard struct {
	AgentType      string               `json:"agentType"`
	Version        string               `json:"version"`
	Description    string               `json:"description"`
	Inputs         map[string]InputSpec `json:"inputs"`
	Outputs        OutputSpec           `json:"outputs"`
	Endpoints      AgentEndpoints       `json:"endpoints"`
	Authentication []string             `json:"authentication"`
	Protocols      []string             `json:"protocols"`
	Status         AgentStatus          `json:"status"`
	LastHeartbeat  time.Time            `json:"lastHeartbeat,omitempty"`
}

// NewAgentCard creates an active card with the standard protocol set.
func NewAgentCard(agentType, version, description string) *AgentCard {
	return &AgentCard{
		AgentType:      agentType,
		Version:        version,
		Description:    description,
		Inputs:         make(map[string]InputSpec),
		Authentication: []string{"bearer"},
		Protocols:      []string{"a2a", "http"},
		Status:         AgentActive,
	}
}

// WithInput declares a named input field.
func (c *AgentCard) WithInput(name, specType string, required bool, description string) *AgentCard {
	c.Inputs[name] = InputSpec{Type: specType, Required: required, Description: description}
	return c
}

// WithOutput declares the produced artifact type.
func (c *AgentCard) WithOutput(artifactType, description string) *AgentCard {
	c.Outputs = OutputSpec{Type: artifactType, Description: description}
	return c
}

// Directory is the aggregate discovery document served at
// /.well-known/agent.json.
type Directory struct {
	Name      string       `json:"name"`
	Version   string       `json:"version"`
	Protocols []string     `json:"protocols"`
	Agents    []*AgentCard `json:"agents"`
	Total     int          `json:"total"`
}
