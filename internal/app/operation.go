package app

// LibraryOperation tracks a CLI operation that may mutate the catalog.
// Operations are created in memory with ID=0. Only mutating commands persist
// them (giving them an auto-increment ID from the catalog).
type LibraryOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewLibraryOperation creates a new in-memory library operation.
func NewLibraryOperation(operation, parameters string) *LibraryOperation {
	return &LibraryOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the catalog.
func (op *LibraryOperation) Persisted() bool {
	return op.ID != 0
}
