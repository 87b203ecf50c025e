package redact

// History is the LIFO stack of undoable operations for one document
// session.
type History struct {
	ops []*Operation
}

// Push records an operation.
func (h *History) Push(op *Operation) {
	h.ops = append(h.ops, op)
}

// Pop removes and returns the most recent operation, or nil when empty.
func (h *History) Pop() *Operation {
	if len(h.ops) == 0 {
		return nil
	}
	op := h.ops[len(h.ops)-1]
	h.ops = h.ops[:len(h.ops)-1]
	return op
}

// Len returns the number of undoable operations.
func (h *History) Len() int { return len(h.ops) }

// Clear drops all history, used after flattening makes undo meaningless.
func (h *History) Clear() { h.ops = nil }
