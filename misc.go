package lms

import (
	"errors"
	"fmt"
	goLog "log"
)

// Kinds of errors.  Use errors.Is() to check whether an Error is of a
// given kind.
var (
	// All leafs of the private key have been used.  The only way forward
	// is to generate a new keypair.
	ErrKeyExhausted = errors.New("private key exhausted")

	// Unsupported or unknown parameters, or typecodes that don't match.
	ErrInvalidParams = errors.New("invalid parameters")

	ErrInvalidSeedLength      = errors.New("invalid seed length")
	ErrInvalidKeyLength       = errors.New("invalid key length")
	ErrInvalidSignatureLength = errors.New("invalid signature length")

	// The leaf index of a signature is out of range.
	ErrInvalidLeafIndex = errors.New("invalid leaf index")

	// The signature did not verify.
	ErrVerificationFailed = errors.New("verification failed")
)

type Error interface {
	error
	Locked() bool // Is this error because something (like a file) was locked?
	Inner() error // Returns the wrapped error, if any
}

type errorImpl struct {
	msg    string
	locked bool
	inner  error
	kind   error // one of the Err* kinds above, if any
}

func (err *errorImpl) Locked() bool  { return err.locked }
func (err *errorImpl) Inner() error  { return err.inner }
func (err *errorImpl) Unwrap() error { return err.inner }

func (err *errorImpl) Is(target error) bool {
	return err.kind != nil && err.kind == target
}

func (err *errorImpl) Error() string {
	msg := err.msg
	if err.kind != nil {
		msg = fmt.Sprintf("%s: %s", err.kind.Error(), msg)
	}
	if err.inner != nil {
		return fmt.Sprintf("%s: %s", msg, err.inner.Error())
	}
	return msg
}

// Formats a new Error
func errorf(format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...)}
}

// Formats a new Error that wraps another
func wrapErrorf(err error, format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...), inner: err}
}

// Formats a new Error of the given kind
func kindErrorf(kind error, format string, a ...interface{}) *errorImpl {
	return &errorImpl{msg: fmt.Sprintf(format, a...), kind: kind}
}

type dummyLogger struct{}
type stdlibLogger struct{}

func (logger *dummyLogger) Logf(format string, a ...interface{}) {}

func (logger *stdlibLogger) Logf(format string, a ...interface{}) {
	goLog.Printf(format, a...)
}

var log Logger

type Logger interface {
	Logf(format string, a ...interface{})
}

// Enables logging to log package.  For more flexibility, see SetLogger().
func EnableLogging() {
	SetLogger(&stdlibLogger{})
}

// Enables logging.  Disable logging by passing nil.
//
// Use EnableLogging if you want to log to the log package.
func SetLogger(logger Logger) {
	if logger == nil {
		log = &dummyLogger{}
		return
	}
	log = logger
}
