package decl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownRight is returned when parsing an unknown right name.
var ErrUnknownRight = errors.New("unknown right")

// Rights is a set of directory rights.
type Rights uint64

const (
	RightConnect Rights = 1 << iota
	RightEnumerate
	RightTraverse
	RightReadBytes
	RightWriteBytes
	RightExecute
	RightGetAttributes
	RightUpdateAttributes
	RightModifyDirectory
)

// Aliases for common right sets.
const (
	RStar  = RightConnect | RightEnumerate | RightTraverse | RightReadBytes | RightGetAttributes
	WStar  = RightConnect | RightEnumerate | RightTraverse | RightWriteBytes | RightModifyDirectory | RightUpdateAttributes
	XStar  = RightConnect | RightEnumerate | RightTraverse | RightExecute
	RWStar = RStar | WStar
	RXStar = RStar | XStar
)

var rightNames = []struct {
	name  string
	right Rights
}{
	{"connect", RightConnect},
	{"enumerate", RightEnumerate},
	{"traverse", RightTraverse},
	{"read_bytes", RightReadBytes},
	{"write_bytes", RightWriteBytes},
	{"execute", RightExecute},
	{"get_attributes", RightGetAttributes},
	{"update_attributes", RightUpdateAttributes},
	{"modify_directory", RightModifyDirectory},
}

var rightAliases = map[string]Rights{
	"r*":  RStar,
	"w*":  WStar,
	"x*":  XStar,
	"rw*": RWStar,
	"rx*": RXStar,
}

// NewRights returns a pointer to r, for use in declarations.
func NewRights(r Rights) *Rights {
	return &r
}

// ParseRights parses a list of right and alias names.
func ParseRights(names ...string) (Rights, error) {
	var r Rights
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if alias, ok := rightAliases[n]; ok {
			r |= alias
			continue
		}
		found := false
		for _, rn := range rightNames {
			if rn.name == n {
				r |= rn.right
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownRight, n)
		}
	}
	return r, nil
}

// Contains reports whether every right in other is also in r.
func (r Rights) Contains(other Rights) bool {
	return r&other == other
}

// Intersect returns the rights present in both r and other.
func (r Rights) Intersect(other Rights) Rights {
	return r & other
}

// Names lists the individual rights in r.
func (r Rights) Names() []string {
	var names []string
	for _, rn := range rightNames {
		if r&rn.right != 0 {
			names = append(names, rn.name)
		}
	}
	return names
}

func (r Rights) String() string {
	if r == 0 {
		return "none"
	}
	return strings.Join(r.Names(), "|")
}

// MarshalYAML implements yaml.Marshaler.
func (r Rights) MarshalYAML() (any, error) {
	return r.Names(), nil
}

// UnmarshalYAML accepts a single name or a sequence of names.
func (r *Rights) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	switch value.Kind {
	case yaml.ScalarNode:
		names = []string{value.Value}
	case yaml.SequenceNode:
		if err := value.Decode(&names); err != nil {
			return fmt.Errorf("rights: %w", err)
		}
	default:
		return fmt.Errorf("rights: line %d: expected a name or a list of names", value.Line)
	}
	parsed, err := ParseRights(names...)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (r *Rights) UnmarshalTOML(data any) error {
	var names []string
	switch v := data.(type) {
	case string:
		names = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("rights: expected string, got %T", item)
			}
			names = append(names, s)
		}
	default:
		return fmt.Errorf("rights: expected a name or a list of names, got %T", data)
	}
	parsed, err := ParseRights(names...)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Rights) MarshalJSON() ([]byte, error) {
	names := r.Names()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts a single name or an array of names.
func (r *Rights) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		var single string
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return fmt.Errorf("rights: %w", err)
		}
		names = []string{single}
	}
	parsed, err := ParseRights(names...)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
