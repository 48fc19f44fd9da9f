// Package werr provides the typed errors shared across the archive VFS
// and the indexed sample store.
package werr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Error kinds, per the error-handling design: caller misuse, host I/O
// failure, end of stream, an operation against an unopened file, corrupt
// on-disk data, and a cache that is still draining its previous write.
const (
	Unknown = iota
	ArgNull
	Io
	Eof
	FileNotOpened
	Corruption
	WouldBlock
)

var (
	ErrUnknown       = newError("unknown error", Unknown, false)
	ErrArgNull       = newError("required argument is nil", ArgNull, false)
	ErrIo            = newError("host file operation failed", Io, true)
	ErrEof           = newError("read past end of file", Eof, false)
	ErrFileNotOpened = newError("operation on a file that is not opened", FileNotOpened, false)
	ErrCorruption    = newError("corruption detected", Corruption, false)
	ErrWouldBlock    = newError("write cache is still writing", WouldBlock, true)
)

// Error is a typed error carrying a stable numeric code and a
// retryability hint, mirrored on the teacher's woodpeckerError.
type Error struct {
	msg       string
	code      int32
	retryable bool
}

func newError(msg string, code int32, retryable bool) Error {
	return Error{msg: msg, code: code, retryable: retryable}
}

func (e Error) Error() string { return e.msg }

// Code returns the stable numeric error kind.
func (e Error) Code() int32 { return e.code }

// IsRetryable reports whether the operation that produced this error may
// succeed if retried unchanged.
func (e Error) IsRetryable() bool { return e.retryable }

// Is implements errors.Is by comparing error kinds, not messages, so a
// wrapped/annotated Error still matches its sentinel.
func (e Error) Is(err error) bool {
	cause := errors.Cause(err)
	if other, ok := cause.(Error); ok {
		return e.code == other.code
	}
	return false
}

// WithCauseErr returns a copy of e whose message is replaced by cause's,
// keeping e's code and retryability.
func (e Error) WithCauseErr(cause error) error {
	return e.WithCauseErrMsg(cause.Error())
}

// WithCauseErrMsg returns a copy of e with a more specific message.
func (e Error) WithCauseErrMsg(msg string) error {
	return Error{msg: msg, code: e.code, retryable: e.retryable}
}

// Code recovers the numeric error kind from any error in the chain,
// returning Unknown's code if none of the chain is a werr.Error.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var e Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ErrUnknown.Code()
}

// IsRetryableErr reports whether err (or its cause) is a retryable
// werr.Error.
func IsRetryableErr(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// multiErrors chains a batch of independent errors into one, keeping all
// of them reachable via errors.Is/errors.As through Unwrap.
type multiErrors struct {
	errs []error
}

func (e *multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	if len(e.errs) == 2 {
		return e.errs[1]
	}
	return &multiErrors{errs: e.errs[1:]}
}

func (e *multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e *multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine folds a batch of possibly-nil errors into a single error, or
// nil if all of them were nil.
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return &multiErrors{errs: errs}
}
