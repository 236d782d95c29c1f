package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/artpar/branchdeploy/internal/core/changes"
	"github.com/artpar/branchdeploy/internal/core/domain"
)

//go:embed components.yaml
var defaultDeclaration []byte

var validate = validator.New()

// Declaration is the on-disk shape of the component table.
type Declaration struct {
	Components []domain.Component `yaml:"components"`
}

// Registry is the validated, ordered component table.
type Registry struct {
	components []domain.Component
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the registry embedded in the binary.
func Default() (*Registry, error) {
	return Parse(defaultDeclaration)
}

// Parse decodes a YAML declaration and validates it.
func Parse(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.NewConfigurationError("", "component declaration is empty", domain.ErrInvalidComponent)
	}

	var decl Declaration
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&decl); err != nil {
		return nil, domain.NewConfigurationError("", fmt.Sprintf("invalid component declaration: %v", err), err)
	}

	return New(decl.Components)
}

// New validates components and builds a Registry that keeps their order.
// Source directories are normalized to slash form.
func New(components []domain.Component) (*Registry, error) {
	normalized := make([]domain.Component, len(components))
	for i, c := range components {
		c.Branches = append([]string(nil), c.Branches...)
		if c.SourceDir != "" && !path.IsAbs(c.SourceDir) {
			c.SourceDir = normalizeSourceDir(c.SourceDir)
		}
		normalized[i] = c
	}

	if err := Validate(normalized); err != nil {
		return nil, err
	}
	return &Registry{components: normalized}, nil
}

// normalizeSourceDir maps the tree root to "." and everything else to its
// cleaned relative form.
func normalizeSourceDir(dir string) string {
	if n := changes.Normalize(dir); n != "" {
		return n
	}
	return "."
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks every descriptor and the cross-descriptor invariants. It
// returns the first violation as a *domain.ConfigurationError.
func Validate(components []domain.Component) error {
	if len(components) == 0 {
		return domain.NewConfigurationError("components", "at least one component must be declared", domain.ErrInvalidComponent)
	}

	ids := make(map[string]string, len(components))
	targets := make(map[string]string, len(components))

	for i, c := range components {
		field := fmt.Sprintf("components[%d]", i)

		if err := validate.Struct(c); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				fe := verrs[0]
				return domain.NewConfigurationError(
					field+"."+fieldName(fe.StructField()),
					fmt.Sprintf("failed %q validation", fe.Tag()),
					domain.ErrInvalidComponent,
				)
			}
			return domain.NewConfigurationError(field, err.Error(), domain.ErrInvalidComponent)
		}

		if strings.ContainsAny(c.ID, " \t\n/") {
			return domain.NewConfigurationError(field+".id", fmt.Sprintf("%q must not contain whitespace or slashes", c.ID), domain.ErrInvalidComponent)
		}
		if path.IsAbs(c.SourceDir) || c.SourceDir == ".." || strings.HasPrefix(c.SourceDir, "../") {
			return domain.NewConfigurationError(field+".source_dir", fmt.Sprintf("%q must stay inside the source tree", c.SourceDir), domain.ErrInvalidComponent)
		}

		if prev, ok := ids[c.ID]; ok {
			return domain.NewConfigurationError(field+".id", fmt.Sprintf("%q already declared at %s", c.ID, prev), domain.ErrDuplicateComponent)
		}
		ids[c.ID] = field

		if owner, ok := targets[c.Target]; ok {
			return domain.NewConfigurationError(field+".target", fmt.Sprintf("%q already used by component %q", c.Target, owner), domain.ErrDuplicateTarget)
		}
		targets[c.Target] = c.ID
	}

	return nil
}

func fieldName(structField string) string {
	switch structField {
	case "ID":
		return "id"
	case "SourceDir":
		return "source_dir"
	case "Target":
		return "target"
	case "Branches":
		return "branches"
	}
	return strings.ToLower(structField)
}

// =============================================================================
// Resolution
// =============================================================================

// Components returns the full table in declaration order.
func (r *Registry) Components() []domain.Component {
	return append([]domain.Component(nil), r.components...)
}

// Eligible returns the components deployable from branch, in declaration
// order. An unregistered branch yields an empty list.
func (r *Registry) Eligible(branch string) []domain.Component {
	var out []domain.Component
	for _, c := range r.components {
		if c.EligibleOn(branch) {
			out = append(out, c)
		}
	}
	return out
}

// ResolveEligible returns the components that are both eligible on branch
// and affected by set, in declaration order.
func (r *Registry) ResolveEligible(branch string, set changes.Set) []domain.Component {
	var out []domain.Component
	for _, c := range r.Eligible(branch) {
		if set.Affects(c.SourceDir) {
			out = append(out, c)
		}
	}
	return out
}

// Branches returns every branch named by at least one component, in order of
// first appearance.
func (r *Registry) Branches() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.components {
		for _, b := range c.Branches {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	return out
}
