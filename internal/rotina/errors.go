package rotina

import (
	"errors"
	"fmt"
)

// ErrUserCancelled is raised at the next suspension point after a stop
// request. It ends a run silently.
var ErrUserCancelled = errors.New("rotina cancelada pelo usuário")

// SyntaxError reports a script that could not be compiled. It is never
// retried.
type SyntaxError struct {
	Path string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("erro de sintaxe em %s, linha %d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("erro de sintaxe em %s: %s", e.Path, e.Msg)
}

// ScriptError wraps a failure raised by the script body itself, such as a
// runtime panic in user code.
type ScriptError struct {
	Path string
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("erro na rotina %s: %v", e.Path, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
