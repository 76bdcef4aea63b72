package layout

import (
	"fmt"
	"strings"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursiveUnsized indicates a struct that contains itself by value.
	LayoutErrRecursiveUnsized LayoutErrorKind = iota + 1
	LayoutErrOpaque
	LayoutErrUnsupported
	LayoutErrSizeOverflow
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind  LayoutErrorKind
	Type  string   // type name, or its IR spelling when unnamed
	Cycle []string // for LayoutErrRecursiveUnsized
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrRecursiveUnsized:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("recursive value type has infinite size (%s)", e.Type)
		}
		return fmt.Sprintf("recursive value type has infinite size (cycle: %s)", strings.Join(e.Cycle, " -> "))
	case LayoutErrOpaque:
		return fmt.Sprintf("opaque struct %s has no size", e.Type)
	case LayoutErrUnsupported:
		return fmt.Sprintf("type %s has no data layout", e.Type)
	case LayoutErrSizeOverflow:
		return fmt.Sprintf("size of %s overflows", e.Type)
	default:
		return fmt.Sprintf("layout error kind=%d %s", e.Kind, e.Type)
	}
}

func typeLabel(t interface {
	Name() string
	LLString() string
}) string {
	if n := t.Name(); n != "" {
		return "%" + n
	}
	return t.LLString()
}
