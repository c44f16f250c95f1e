package clicommand

import "errors"

// ExitError tells main.go to exit with code after printing inner.
type ExitError struct {
	code  int
	inner error
}

func NewExitError(code int, err error) *ExitError {
	return &ExitError{code: code, inner: err}
}

func (e *ExitError) Code() int {
	return e.code
}

func (e *ExitError) Error() string {
	return e.inner.Error()
}

func (e *ExitError) Unwrap() error {
	return e.inner
}

// ExitCode returns the code err asks to exit with: the code of an ExitError
// in its chain, 1 for any other error, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee := new(ExitError); errors.As(err, &ee) {
		return ee.Code()
	}
	return 1
}
