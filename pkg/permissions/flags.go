package permissions

import (
	"fmt"
	"sort"
	"strings"
)

// Flag names a single page-level capability carried by a role and its derived grants
type Flag string

const (
	CanAdd                    Flag = "can_add"
	CanChange                 Flag = "can_change"
	CanDelete                 Flag = "can_delete"
	CanChangeAdvancedSettings Flag = "can_change_advanced_settings"
	CanPublish                Flag = "can_publish"
	CanChangePermissions      Flag = "can_change_permissions"
	CanMovePage               Flag = "can_move_page"
	CanView                   Flag = "can_view"
)

// All returns every flag in column order
func All() []Flag {
	return []Flag{
		CanAdd,
		CanChange,
		CanDelete,
		CanChangeAdvancedSettings,
		CanPublish,
		CanChangePermissions,
		CanMovePage,
		CanView,
	}
}

// ParseFlag converts a flag name into a Flag
func ParseFlag(name string) (Flag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range All() {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown permission flag %q", name)
}

// Set is the fixed bundle of boolean capability flags
type Set struct {
	CanAdd                    bool `json:"can_add" yaml:"can_add"`
	CanChange                 bool `json:"can_change" yaml:"can_change"`
	CanDelete                 bool `json:"can_delete" yaml:"can_delete"`
	CanChangeAdvancedSettings bool `json:"can_change_advanced_settings" yaml:"can_change_advanced_settings"`
	CanPublish                bool `json:"can_publish" yaml:"can_publish"`
	CanChangePermissions      bool `json:"can_change_permissions" yaml:"can_change_permissions"`
	CanMovePage               bool `json:"can_move_page" yaml:"can_move_page"`
	CanView                   bool `json:"can_view" yaml:"can_view"`
}

// Of builds a Set with the given flags enabled
func Of(flags ...Flag) Set {
	var s Set
	for _, f := range flags {
		s = s.With(f, true)
	}
	return s
}

// Has reports whether the flag is enabled
func (s Set) Has(f Flag) bool {
	if p := s.field(f); p != nil {
		return *p
	}
	return false
}

// With returns a copy of the set with the flag set to value
func (s Set) With(f Flag, value bool) Set {
	if p := s.field(f); p != nil {
		*p = value
	}
	return s
}

// Flags returns the enabled flags in column order
func (s Set) Flags() []Flag {
	var out []Flag
	for _, f := range All() {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// String renders the enabled flags, comma separated
func (s Set) String() string {
	flags := s.Flags()
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = string(f)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// field returns a pointer to the struct field backing f, nil for unknown flags
func (s *Set) field(f Flag) *bool {
	switch f {
	case CanAdd:
		return &s.CanAdd
	case CanChange:
		return &s.CanChange
	case CanDelete:
		return &s.CanDelete
	case CanChangeAdvancedSettings:
		return &s.CanChangeAdvancedSettings
	case CanPublish:
		return &s.CanPublish
	case CanChangePermissions:
		return &s.CanChangePermissions
	case CanMovePage:
		return &s.CanMovePage
	case CanView:
		return &s.CanView
	}
	return nil
}

// Columns returns the SQL column names for the flags in column order
func Columns() []string {
	all := All()
	cols := make([]string, len(all))
	for i, f := range all {
		cols[i] = string(f)
	}
	return cols
}

// Values returns the flag values in column order, ready to be bound as query args
func (s Set) Values() []any {
	all := All()
	vals := make([]any, len(all))
	for i, f := range all {
		vals[i] = s.Has(f)
	}
	return vals
}

// ScanTargets returns pointers to the flag fields in column order
func (s *Set) ScanTargets() []any {
	all := All()
	targets := make([]any, len(all))
	for i, f := range all {
		targets[i] = s.field(f)
	}
	return targets
}
