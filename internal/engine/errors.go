package engine

import "fmt"

// ErrorKind classifies per-item failures so batch callers can report them.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindDependency ErrorKind = "dependency"
)

// ItemError is a failure scoped to one batch item.
type ItemError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ItemError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func validationErr(op string) *ItemError {
	return &ItemError{Kind: KindValidation, Op: op}
}

func dependencyErr(op string, err error) *ItemError {
	return &ItemError{Kind: KindDependency, Op: op, Err: err}
}
