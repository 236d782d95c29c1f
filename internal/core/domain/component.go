package domain

// =============================================================================
// Component
// =============================================================================

// Component describes one independently deployable directory and the remote
// function that receives it. Components are static configuration and are
// never mutated at runtime.
type Component struct {
	ID        string   `yaml:"id" json:"id" validate:"required"`
	SourceDir string   `yaml:"source_dir" json:"source_dir" validate:"required"`
	Target    string   `yaml:"target" json:"target" validate:"required"`
	Branches  []string `yaml:"branches" json:"branches" validate:"required,min=1,dive,required"`
}

// EligibleOn reports whether the component may be deployed from branch.
func (c Component) EligibleOn(branch string) bool {
	for _, b := range c.Branches {
		if b == branch {
			return true
		}
	}
	return false
}
