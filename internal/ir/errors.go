package ir

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

// Error taxonomy per the platform's error design: InvalidArgument for
// inconsistent graph edits, Internal for invariant violations, and
// CompilerError for user-facing problems that deserve source-span
// decoration. Sentinels are matched with errors.Is; call sites add
// context with errors.Wrapf rather than building ad-hoc strings.
var (
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrInternal                 = errors.New("internal error")
	ErrCompiler                 = errors.New("compiler error")
	ErrUnknownTable             = errors.WithDetail(ErrCompiler, "unknown table")
	ErrSchemaMismatch           = errors.WithDetail(ErrCompiler, "schema mismatch across union")
	ErrInitArgTypeMismatch      = errors.WithDetail(ErrCompiler, "init-arg type mismatch")
	ErrNonPrimitiveInitArg      = errors.WithDetail(ErrCompiler, "non-primitive init arg")
	ErrSemanticTypeCastMismatch = errors.WithDetail(ErrCompiler, "semantic type cast mismatch")
)

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// Internalf wraps ErrInternal with a formatted message.
func Internalf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInternal, format, args...)
}

// SourceSpan locates a compiler error in the originating query text.
// The IR core never produces one itself — it has no source text, that
// is the external compiler's job — but threads one through when the
// caller supplies it.
type SourceSpan struct {
	Line     int
	Column   int
	StopLine int
	StopCol  int
}

func (s SourceSpan) String() string {
	if s.Line == 0 && s.Column == 0 {
		return "<no span>"
	}
	return strconv.Itoa(s.Line) + ":" + strconv.Itoa(s.Column) +
		"-" + strconv.Itoa(s.StopLine) + ":" + strconv.Itoa(s.StopCol)
}

// CompilerErrorf wraps a compiler sentinel with a formatted message and
// a source span for user-facing decoration.
func CompilerErrorf(sentinel error, span SourceSpan, format string, args ...interface{}) error {
	wrapped := errors.Wrapf(sentinel, format, args...)
	return errors.WithDetailf(wrapped, "at %s", span)
}
