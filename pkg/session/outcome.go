package session

// Outcome is how an interactive session ended. It is one of Resumed, Skipped
// or Quit.
type Outcome interface {
	outcome()
}

// Resumed asks the caller to invoke the failed call again with new arguments.
type Resumed struct {
	Args   []any
	Kwargs map[string]any
}

// Skipped asks the caller to return Value instead of calling again.
// Value is nil when skip() was called without an argument.
type Skipped struct {
	Value any
}

// Quit reasons.
const (
	ReasonQuit     = "quit"
	ReasonEOF      = "eof"
	ReasonCanceled = "canceled"
)

// Quit means the operator gave up, either explicitly or by closing input.
type Quit struct {
	Reason string
}

func (Resumed) outcome() {}
func (Skipped) outcome() {}
func (Quit) outcome()    {}

// Named marks a map passed to resume as named arguments.
type Named map[string]any
