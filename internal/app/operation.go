package app

// Operation tracks the CLI command being run. Commands that change the
// ledger mark it mutated; Close snapshots the ledger only for those.
type Operation struct {
	ID         string // appears in every log line of the command
	Name       string
	Parameters string
	Status     string // "success" or "error"
	mutated    bool
}

// NewOperation creates an operation that has not touched the ledger yet.
func NewOperation(id, name, parameters string) *Operation {
	return &Operation{
		ID:         id,
		Name:       name,
		Parameters: parameters,
		Status:     "success",
	}
}

// MarkMutated records that the operation committed at least one request.
func (op *Operation) MarkMutated() { op.mutated = true }

// Mutated returns true if the operation changed the ledger.
func (op *Operation) Mutated() bool { return op.mutated }

// Fail marks the operation as having ended in error.
func (op *Operation) Fail() { op.Status = "error" }
