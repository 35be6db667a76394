package manager

import (
	"github.com/halcasteel/bookmark-pipeline/pkg/agents"
	"github.com/halcasteel/bookmark-pipeline/pkg/registry"
)

// Workflow is a named ordered agent sequence.
type Workflow struct {
	Type        string   `json:"type"`
	Agents      []string `json:"agents"`
	Description string   `json:"description"`
}

// Built-in workflow names.
const (
	WorkflowQuickImport    = "quick_import"
	WorkflowFullImport     = "full_import"
	WorkflowImportOnly     = "import_only"
	WorkflowValidateEnrich = "validate_enrich"
)

// NewWorkflowRegistry returns a registry seeded with the built-in
// workflows. Callers may register additional sequences.
func NewWorkflowRegistry() *registry.Registry[*Workflow] {
	r := registry.New[*Workflow]()
	r.Register(WorkflowQuickImport, &Workflow{
		Type:        WorkflowQuickImport,
		Agents:      []string{agents.AgentTypeImport, agents.AgentTypeValidation},
		Description: "Import a bookmark file and validate reachability",
	})
	r.Register(WorkflowFullImport, &Workflow{
		Type: WorkflowFullImport,
		Agents: []string{
			agents.AgentTypeImport,
			agents.AgentTypeValidation,
			agents.AgentTypeEnrichment,
			agents.AgentTypeCategorization,
			agents.AgentTypeEmbedding,
		},
		Description: "Full pipeline: import, validate, enrich, categorize, embed",
	})
	r.Register(WorkflowImportOnly, &Workflow{
		Type:        WorkflowImportOnly,
		Agents:      []string{agents.AgentTypeImport},
		Description: "Import a bookmark file without post-processing",
	})
	r.Register(WorkflowValidateEnrich, &Workflow{
		Type: WorkflowValidateEnrich,
		Agents: []string{
			agents.AgentTypeValidation,
			agents.AgentTypeEnrichment,
		},
		Description: "Re-validate and re-enrich existing bookmarks",
	})
	return r
}
