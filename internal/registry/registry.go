package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Family identifies a category of pluggable external service.
type Family string

const (
	FamilyBackupStorage       Family = "backup_storage"
	FamilyCalendar            Family = "calendar"
	FamilyInvoicing           Family = "invoicing"
	FamilyNotificationChannel Family = "notification_channel"
)

// AllFamilies lists every family in display order.
var AllFamilies = []Family{
	FamilyBackupStorage,
	FamilyCalendar,
	FamilyInvoicing,
	FamilyNotificationChannel,
}

// ParseFamily validates a family name coming from an untrusted source.
func ParseFamily(s string) (Family, error) {
	for _, f := range AllFamilies {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

var (
	ErrUnknownFamily    = errors.New("unknown provider family")
	ErrProviderNotFound = errors.New("provider not found")
)

//go:embed catalog.yaml
var defaultCatalog []byte

// FieldSpec describes one credential or setting a provider needs.
type FieldSpec struct {
	Name     string `yaml:"name" json:"name"`
	Secret   bool   `yaml:"secret" json:"secret"`
	Required bool   `yaml:"required" json:"required"`
}

// ProviderDescriptor is the static description of a provider.
type ProviderDescriptor struct {
	Family       Family      `yaml:"-" json:"family"`
	ID           string      `yaml:"id" json:"id"`
	DisplayName  string      `yaml:"display_name" json:"display_name"`
	Capabilities []string    `yaml:"capabilities" json:"capabilities"`
	Fields       []FieldSpec `yaml:"fields" json:"fields"`
}

// RequiredFields returns the required fields in catalog order.
func (d ProviderDescriptor) RequiredFields() []FieldSpec {
	out := make([]FieldSpec, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field by name.
func (d ProviderDescriptor) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// IsSecret reports whether the named field holds a secret.
func (d ProviderDescriptor) IsSecret(name string) bool {
	f, ok := d.Field(name)
	return ok && f.Secret
}

// HasCapability reports whether the provider advertises the capability flag.
func (d ProviderDescriptor) HasCapability(flag string) bool {
	for _, c := range d.Capabilities {
		if c == flag {
			return true
		}
	}
	return false
}

type catalogFile struct {
	Families map[Family][]ProviderDescriptor `yaml:"families"`
}

// Registry is the read-only provider catalog. It is built once at startup and
// never mutated afterwards, so it needs no locking.
type Registry struct {
	ordered map[Family][]ProviderDescriptor
	index   map[Family]map[string]int
}

// NewDefault builds the registry from the embedded catalog.
func NewDefault() (*Registry, error) {
	return Parse(defaultCatalog)
}

// Load builds the registry from a catalog file on disk, falling back to the
// embedded catalog when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from a YAML catalog document.
func Parse(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing provider catalog: %w", err)
	}

	r := &Registry{
		ordered: make(map[Family][]ProviderDescriptor, len(AllFamilies)),
		index:   make(map[Family]map[string]int, len(AllFamilies)),
	}
	for _, f := range AllFamilies {
		r.ordered[f] = nil
		r.index[f] = map[string]int{}
	}

	for family, providers := range file.Families {
		if _, err := ParseFamily(string(family)); err != nil {
			return nil, err
		}
		for _, p := range providers {
			if p.ID == "" {
				return nil, fmt.Errorf("catalog: %s has a provider without id", family)
			}
			if _, dup := r.index[family][p.ID]; dup {
				return nil, fmt.Errorf("catalog: duplicate provider %q in %s", p.ID, family)
			}
			seen := map[string]bool{}
			for _, field := range p.Fields {
				if field.Name == "" {
					return nil, fmt.Errorf("catalog: %s/%s has a field without name", family, p.ID)
				}
				if seen[field.Name] {
					return nil, fmt.Errorf("catalog: %s/%s declares field %q twice", family, p.ID, field.Name)
				}
				seen[field.Name] = true
			}
			if p.DisplayName == "" {
				p.DisplayName = p.ID
			}
			p.Family = family
			r.index[family][p.ID] = len(r.ordered[family])
			r.ordered[family] = append(r.ordered[family], p)
		}
	}
	return r, nil
}

// Families returns every known family, including ones with no providers.
func (r *Registry) Families() []Family {
	out := make([]Family, len(AllFamilies))
	copy(out, AllFamilies)
	return out
}

// List returns the providers of a family in catalog order.
func (r *Registry) List(family Family) []ProviderDescriptor {
	src := r.ordered[family]
	out := make([]ProviderDescriptor, len(src))
	copy(out, src)
	return out
}

// Get returns one provider descriptor.
func (r *Registry) Get(family Family, providerID string) (ProviderDescriptor, error) {
	idx, ok := r.index[family][providerID]
	if !ok {
		return ProviderDescriptor{}, fmt.Errorf("%w: %s/%s", ErrProviderNotFound, family, providerID)
	}
	return r.ordered[family][idx], nil
}
