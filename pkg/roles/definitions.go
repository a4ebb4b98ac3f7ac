package roles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/permissions"
)

// Definition declares a role in a definitions file
type Definition struct {
	Name        string   `yaml:"name" validate:"required,max=50"`
	Group       string   `yaml:"group" validate:"required"`
	SiteWide    *bool    `yaml:"site_wide"`
	Permissions []string `yaml:"permissions"`
}

// DefinitionFile is the top level of a definitions file
type DefinitionFile struct {
	Roles []Definition `yaml:"roles" validate:"dive"`
}

// IsSiteWide returns the declared mode, site wide unless stated otherwise
func (d Definition) IsSiteWide() bool {
	return d.SiteWide == nil || *d.SiteWide
}

// Flags parses the declared permission names
func (d Definition) Flags() (permissions.Set, error) {
	var set permissions.Set
	for _, name := range d.Permissions {
		f, err := permissions.ParseFlag(name)
		if err != nil {
			return permissions.Set{}, fmt.Errorf("role %q: %w", d.Name, err)
		}
		set = set.With(f, true)
	}
	return set, nil
}

// LoadDefinitions decodes a YAML definitions document
func LoadDefinitions(r io.Reader) ([]Definition, error) {
	var file DefinitionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode role definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Roles))
	for _, d := range file.Roles {
		if seen[d.Name] {
			return nil, fmt.Errorf("role %q is defined twice", d.Name)
		}
		seen[d.Name] = true
		if _, err := d.Flags(); err != nil {
			return nil, err
		}
	}
	return file.Roles, nil
}

// LoadDefinitionsFile reads definitions from path
func LoadDefinitionsFile(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open role definitions: %w", err)
	}
	defer f.Close()
	return LoadDefinitions(f)
}

// ApplyResult lists the role names touched by Apply
type ApplyResult struct {
	Created   []string
	Updated   []string
	Unchanged []string
}

func (r ApplyResult) String() string {
	return fmt.Sprintf("created: [%s] updated: [%s] unchanged: [%s]",
		strings.Join(r.Created, ", "), strings.Join(r.Updated, ", "), strings.Join(r.Unchanged, ", "))
}

// Apply creates or updates a role per definition, creating missing base groups.
// All definitions apply in one transaction.
func (e *Engine) Apply(ctx context.Context, defs []Definition) (*ApplyResult, error) {
	file := DefinitionFile{Roles: defs}
	if err := e.validate.Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}

	result := &ApplyResult{}
	err := e.db.WithTx(ctx, func(ctx context.Context) error {
		for _, d := range defs {
			flags, err := d.Flags()
			if err != nil {
				return err
			}
			group, err := e.dir.GetGroupByName(ctx, d.Group)
			if errors.Is(err, directory.ErrGroupNotFound) {
				group = &directory.Group{Name: d.Group}
				err = e.dir.CreateGroup(ctx, group)
			}
			if err != nil {
				return err
			}

			want := Role{Name: d.Name, GroupID: group.ID, IsSiteWide: d.IsSiteWide(), Permissions: flags}
			existing, err := e.store.GetRoleByName(ctx, d.Name)
			if isNotFound(err) {
				if err := e.Create(ctx, &want); err != nil {
					return err
				}
				result.Created = append(result.Created, d.Name)
				continue
			}
			if err != nil {
				return err
			}

			want.ID = existing.ID
			if want == *existing {
				result.Unchanged = append(result.Unchanged, d.Name)
				continue
			}
			if err := e.Save(ctx, &want); err != nil {
				return err
			}
			result.Updated = append(result.Updated, d.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
