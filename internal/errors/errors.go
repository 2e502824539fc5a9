// Package errors is a drop-in-flavored replacement for Go's stdlib errors:
// a chainable *Error that carries a severity and a caller name, plus the
// error taxonomy the rest of the module branches on.
package errors

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/0xinf0/nooshdaroo/internal/log"
)

const trim = len("github.com/0xinf0/nooshdaroo/")

// Kind identifies which branch of the taxonomy an Error belongs to. Kind is
// comparable so callers can branch on it without string matching.
type Kind int

const (
	KindUnspecified Kind = iota
	KindProtocolNotFound
	KindInvalidConfig
	KindPsfParse
	KindLibraryError
	KindInvalidFrame
	KindTruncatedInput
	KindHandshakeFailed
	KindDecryptionFailed
	KindInvalidState
	KindIO
)

type hasInnerError interface {
	Unwrap() error
}

type hasSeverity interface {
	Severity() log.Severity
}

type hasKind interface {
	Kind() Kind
}

// Error is an error object with an optional underlying cause.
type Error struct {
	message  []interface{}
	caller   string
	inner    error
	severity log.Severity
	kind     Kind

	// TruncatedN is populated for KindTruncatedInput: the number of
	// additional bytes the caller should wait for before retrying.
	TruncatedN int
	// PsfPath/PsfLine are populated for KindPsfParse.
	PsfPath string
	PsfLine int
}

// Error implements error.
func (err *Error) Error() string {
	b := strings.Builder{}
	if err.caller != "" {
		b.WriteString(err.caller)
		b.WriteString(": ")
	}
	b.WriteString(concat(err.message...))
	if err.inner != nil {
		b.WriteString(" > ")
		b.WriteString(err.inner.Error())
	}
	return b.String()
}

func concat(parts ...interface{}) string {
	strs := make([]string, 0, len(parts))
	for _, p := range parts {
		strs = append(strs, fmt.Sprint(p))
	}
	return strings.Join(strs, "")
}

// Unwrap implements hasInnerError.
func (err *Error) Unwrap() error {
	return err.inner
}

// Base attaches an underlying cause.
func (err *Error) Base(e error) *Error {
	err.inner = e
	return err
}

// WithKind tags the error with a taxonomy Kind.
func (err *Error) WithKind(k Kind) *Error {
	err.kind = k
	return err
}

// Kind returns this error's taxonomy Kind.
func (err *Error) Kind() Kind {
	return err.kind
}

func (err *Error) atSeverity(s log.Severity) *Error {
	err.severity = s
	return err
}

// Severity returns the effective severity, deferring to an inner error's if
// that one is more urgent.
func (err *Error) Severity() log.Severity {
	if s, ok := err.inner.(hasSeverity); ok {
		if s.Severity() < err.severity {
			return s.Severity()
		}
	}
	return err.severity
}

func (err *Error) AtDebug() *Error   { return err.atSeverity(log.SeverityDebug) }
func (err *Error) AtInfo() *Error    { return err.atSeverity(log.SeverityInfo) }
func (err *Error) AtWarning() *Error { return err.atSeverity(log.SeverityWarning) }
func (err *Error) AtError() *Error   { return err.atSeverity(log.SeverityError) }

// New returns a new error object with a message formed from the given
// arguments, tagged with the calling package's name.
func New(msg ...interface{}) *Error {
	caller := ""
	if pc, _, _, ok := runtime.Caller(1); ok {
		name := runtime.FuncForPC(pc).Name()
		if len(name) >= trim {
			name = name[trim:]
		}
		if i := strings.Index(name, "."); i > 0 {
			name = name[:i]
		}
		caller = name
	}
	return &Error{
		message:  msg,
		severity: log.SeverityInfo,
		caller:   caller,
	}
}

// Is reports whether err (or any error in its Unwrap chain) carries the
// given Kind.
func Is(err error, k Kind) bool {
	for err != nil {
		if kh, ok := err.(hasKind); ok && kh.Kind() == k {
			return true
		}
		u, ok := err.(hasInnerError)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Cause returns the root cause of err by following Unwrap as far as it goes.
func Cause(err error) error {
	for {
		u, ok := err.(hasInnerError)
		if !ok || u.Unwrap() == nil {
			return err
		}
		err = u.Unwrap()
	}
}

func logAt(sev log.Severity, msg ...interface{}) {
	e := New(msg...).atSeverity(sev)
	log.Record(&log.GeneralMessage{Severity: sev, Content: e})
}

func LogDebug(msg ...interface{})   { logAt(log.SeverityDebug, msg...) }
func LogInfo(msg ...interface{})    { logAt(log.SeverityInfo, msg...) }
func LogWarning(msg ...interface{}) { logAt(log.SeverityWarning, msg...) }
func LogError(msg ...interface{})   { logAt(log.SeverityError, msg...) }

// --- Taxonomy constructors ---

// ProtocolNotFound reports that set_protocol/get_protocol referenced an
// unknown protocol id.
func ProtocolNotFound(id string) *Error {
	return New("protocol not found: ", id).WithKind(KindProtocolNotFound).AtWarning()
}

// InvalidConfig reports that a parsed configuration value was rejected.
func InvalidConfig(msg string) *Error {
	return New("invalid config: ", msg).WithKind(KindInvalidConfig).AtError()
}

// PsfParse reports a malformed protocol specification file.
func PsfParse(path string, line int, msg string) *Error {
	e := New(fmt.Sprintf("%s:%d: %s", path, line, msg)).WithKind(KindPsfParse).AtError()
	e.PsfPath, e.PsfLine = path, line
	return e
}

// LibraryError reports a load-time inconsistency (cyclic length, dangling
// reference).
func LibraryError(msg string) *Error {
	return New("library error: ", msg).WithKind(KindLibraryError).AtError()
}

// InvalidFrame reports a codec-level validation failure during unwrap.
func InvalidFrame(reason string) *Error {
	return New("invalid frame: ", reason).WithKind(KindInvalidFrame).AtWarning()
}

// TruncatedInput reports that unwrap needs n more bytes to make progress.
// Always recoverable by reading more, unlike every other codec error.
func TruncatedInput(n int) *Error {
	e := New(fmt.Sprintf("truncated input, need %d more bytes", n)).WithKind(KindTruncatedInput).AtDebug()
	e.TruncatedN = n
	return e
}

// HandshakeFailed reports a failed Noise handshake or cover-protocol
// handshake signature mismatch.
func HandshakeFailed(msg string) *Error {
	return New("handshake failed: ", msg).WithKind(KindHandshakeFailed).AtError()
}

// DecryptionFailed reports an AEAD tag failure during transport. Always
// fatal to the session, never retried.
func DecryptionFailed() *Error {
	return New("decryption failed").WithKind(KindDecryptionFailed).AtError()
}

// InvalidState reports API misuse, such as a write after close.
func InvalidState(msg string) *Error {
	return New("invalid state: ", msg).WithKind(KindInvalidState).AtWarning()
}

// Io wraps an underlying transport error.
func Io(cause error) *Error {
	return New("io error").WithKind(KindIO).Base(cause).AtWarning()
}
