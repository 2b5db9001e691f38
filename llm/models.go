package llm

// Model variant identifiers. ModelPrimary is the default high-quality
// variant; ModelFlash is the faster/cheaper variant used after fallback.
const (
	ModelPrimary = "gemini-2.5-pro"
	ModelFlash   = "gemini-2.5-flash"
)

// ModelInfo describes a known model variant.
type ModelInfo struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	Tier          string   `json:"tier"` // "primary" or "flash"
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in variant catalog.
var Models = []ModelInfo{
	{
		ID: ModelPrimary, DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, Tier: "primary",
		Aliases: []string{"pro"},
	},
	{
		ID: ModelFlash, DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, Tier: "flash",
		Aliases: []string{"flash"},
	},
}

// GetModelInfo returns the catalog entry for a model ID or alias, or nil
// if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ModelIDs returns the IDs of all catalog entries.
func ModelIDs() []string {
	ids := make([]string, len(Models))
	for i, m := range Models {
		ids[i] = m.ID
	}
	return ids
}
