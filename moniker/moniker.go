// Package moniker identifies component instances by their path from the root
// of the component tree.
//
// A moniker is an ordered list of child names. Each child name carries the
// child's name, the collection it belongs to (empty for static children) and
// the instance id allocated when the instance was created. The text form is
// "/" for the root and "/a:1/coll:b:3" for descendants; the instance id
// suffix may be omitted, in which case it matches whichever instance with
// that name is currently live.
package moniker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const maxNameLength = 255

// Moniker parsing errors
var (
	ErrEmptyName       = errors.New("moniker: empty name")
	ErrNameTooLong     = errors.New("moniker: name too long")
	ErrInvalidNameChar = errors.New("moniker: invalid character in name")
	ErrNotAbsolute     = errors.New("moniker: must start with '/'")
	ErrInvalidSegment  = errors.New("moniker: invalid segment")
)

// ChildName is one segment of a moniker.
type ChildName struct {
	Name       string
	Collection string
	InstanceID uint64
}

// NewChildName returns the segment of a static child.
func NewChildName(name string) ChildName {
	return ChildName{Name: name}
}

// NewCollectionChildName returns the segment of a child in collection coll.
func NewCollectionChildName(coll, name string) ChildName {
	return ChildName{Name: name, Collection: coll}
}

// Key returns the segment with the instance id stripped. Keys identify a
// child slot within its parent.
func (c ChildName) Key() ChildName {
	return ChildName{Name: c.Name, Collection: c.Collection}
}

// WithInstanceID returns a copy of c carrying id.
func (c ChildName) WithInstanceID(id uint64) ChildName {
	c.InstanceID = id
	return c
}

// Matches reports whether c names the same slot as other. A zero instance id
// on either side matches any instance.
func (c ChildName) Matches(other ChildName) bool {
	if c.Name != other.Name || c.Collection != other.Collection {
		return false
	}
	if c.InstanceID == 0 || other.InstanceID == 0 {
		return true
	}
	return c.InstanceID == other.InstanceID
}

func (c ChildName) String() string {
	var b strings.Builder
	if c.Collection != "" {
		b.WriteString(c.Collection)
		b.WriteByte(':')
	}
	b.WriteString(c.Name)
	switch {
	case c.InstanceID != 0:
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(c.InstanceID, 10))
	case c.Collection != "" && isDigits(c.Name):
		// "coll:123" would read back as name coll with id 123.
		b.WriteString(":0")
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseChildName parses "name", "coll:name", "name:id" or "coll:name:id".
// A two-part segment whose second part is numeric is read as name:id, so a
// collection child with an all-digit name is written "coll:123:0" when it
// carries no instance id. An id of 0 matches any instance.
func ParseChildName(s string) (ChildName, error) {
	parts := strings.Split(s, ":")
	var c ChildName
	switch len(parts) {
	case 1:
		c.Name = parts[0]
	case 2:
		if id, err := strconv.ParseUint(parts[1], 10, 64); err == nil {
			c.Name, c.InstanceID = parts[0], id
		} else {
			c.Collection, c.Name = parts[0], parts[1]
		}
	case 3:
		id, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return ChildName{}, fmt.Errorf("%w: %q: %w", ErrInvalidSegment, s, err)
		}
		c.Collection, c.Name, c.InstanceID = parts[0], parts[1], id
	default:
		return ChildName{}, fmt.Errorf("%w: %q", ErrInvalidSegment, s)
	}
	if err := ValidateName(c.Name); err != nil {
		return ChildName{}, err
	}
	if c.Collection != "" {
		if err := ValidateName(c.Collection); err != nil {
			return ChildName{}, err
		}
	}
	return c, nil
}

// ValidateName checks a child or collection name: 1-255 characters drawn
// from [a-z0-9_.-].
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %d characters", ErrNameTooLong, len(name))
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return fmt.Errorf("%w: %q in %q", ErrInvalidNameChar, r, name)
		}
	}
	return nil
}

// Moniker is an absolute path from the root of the component tree. The zero
// value is the root.
type Moniker struct {
	path []ChildName
}

// Root returns the root moniker.
func Root() Moniker {
	return Moniker{}
}

// New builds a moniker from the given segments.
func New(path ...ChildName) Moniker {
	if len(path) == 0 {
		return Moniker{}
	}
	return Moniker{path: append([]ChildName(nil), path...)}
}

// Parse parses the text form of a moniker.
func Parse(s string) (Moniker, error) {
	if !strings.HasPrefix(s, "/") {
		return Moniker{}, fmt.Errorf("%w: %q", ErrNotAbsolute, s)
	}
	trimmed := strings.Trim(s, "/")
	if trimmed == "" {
		return Root(), nil
	}
	var path []ChildName
	for _, seg := range strings.Split(trimmed, "/") {
		c, err := ParseChildName(seg)
		if err != nil {
			return Moniker{}, err
		}
		path = append(path, c)
	}
	return Moniker{path: path}, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// package-level variables.
func MustParse(s string) Moniker {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// IsRoot reports whether m is the root moniker.
func (m Moniker) IsRoot() bool {
	return len(m.path) == 0
}

// Depth returns the number of segments in m. The root has depth 0.
func (m Moniker) Depth() int {
	return len(m.path)
}

// Path returns a copy of the segments of m.
func (m Moniker) Path() []ChildName {
	return append([]ChildName(nil), m.path...)
}

// Leaf returns the last segment of m. It returns false for the root.
func (m Moniker) Leaf() (ChildName, bool) {
	if m.IsRoot() {
		return ChildName{}, false
	}
	return m.path[len(m.path)-1], true
}

// Parent returns the moniker of m's parent. It returns false for the root.
func (m Moniker) Parent() (Moniker, bool) {
	if m.IsRoot() {
		return Moniker{}, false
	}
	return New(m.path[:len(m.path)-1]...), true
}

// Child returns the moniker of m's child c.
func (m Moniker) Child(c ChildName) Moniker {
	path := make([]ChildName, 0, len(m.path)+1)
	path = append(path, m.path...)
	return Moniker{path: append(path, c)}
}

// Descendant returns m with every segment of rel appended.
func (m Moniker) Descendant(rel ...ChildName) Moniker {
	path := make([]ChildName, 0, len(m.path)+len(rel))
	path = append(path, m.path...)
	return Moniker{path: append(path, rel...)}
}

// WithoutInstanceIDs returns m with every instance id cleared.
func (m Moniker) WithoutInstanceIDs() Moniker {
	if m.IsRoot() {
		return m
	}
	path := make([]ChildName, len(m.path))
	for i, c := range m.path {
		path[i] = c.Key()
	}
	return Moniker{path: path}
}

// Equal reports whether m and other have identical segments, instance ids included.
func (m Moniker) Equal(other Moniker) bool {
	if len(m.path) != len(other.path) {
		return false
	}
	for i := range m.path {
		if m.path[i] != other.path[i] {
			return false
		}
	}
	return true
}

// Matches is like Equal but treats zero instance ids as wildcards.
func (m Moniker) Matches(other Moniker) bool {
	if len(m.path) != len(other.path) {
		return false
	}
	for i := range m.path {
		if !m.path[i].Matches(other.path[i]) {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether m is a strict ancestor of other.
func (m Moniker) IsAncestorOf(other Moniker) bool {
	if len(m.path) >= len(other.path) {
		return false
	}
	for i := range m.path {
		if !m.path[i].Matches(other.path[i]) {
			return false
		}
	}
	return true
}

func (m Moniker) String() string {
	if m.IsRoot() {
		return "/"
	}
	var b strings.Builder
	for _, c := range m.path {
		b.WriteByte('/')
		b.WriteString(c.String())
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (m Moniker) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Moniker) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
