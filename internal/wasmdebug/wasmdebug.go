// Package wasmdebug decorates trap stacktraces and debug output with the
// best-effort function naming recovered from a module's optional custom
// "name" section. Absent names degrade to numeric function indices.
package wasmdebug

import (
	"fmt"
	"strings"
)

// Names resolves function indices to human-readable frame labels.
type Names struct {
	functions map[uint32]string
}

// NewNames wraps a function-index-to-name table; nil is valid and yields
// index-only labels.
func NewNames(functions map[uint32]string) *Names {
	return &Names{functions: functions}
}

// FunctionLabel returns "name (index)" when the name section covers idx,
// else "function[index]".
func (n *Names) FunctionLabel(idx uint32) string {
	if n != nil && n.functions != nil {
		if name, ok := n.functions[idx]; ok {
			return fmt.Sprintf("%s (%d)", name, idx)
		}
	}
	return fmt.Sprintf("function[%d]", idx)
}

// FormatStacktrace renders an innermost-to-outermost function index chain
// as a one-line trace, e.g. "inner (2) <- middle (1) <- outer (0)".
func (n *Names) FormatStacktrace(stack []uint32) string {
	if len(stack) == 0 {
		return "(no stacktrace)"
	}
	labels := make([]string, len(stack))
	for i, idx := range stack {
		labels[i] = n.FunctionLabel(idx)
	}
	return strings.Join(labels, " <- ")
}
