// Package hosterror implements the runtime's error taxonomy (spec §7):
// a stable Kind, a dotted Code suitable for documentation lookup, a
// human Help string, an optional doc URL, and an optional source Span
// for parse/type-check errors that need a caret-underline rendering by
// an external reporter.
//
// Following the rbac package's catalog-of-named-constants idiom, every
// Kind is declared once here as a typed string constant.
package hosterror

import "fmt"

// Kind categorizes an error without pinning it to a single Go type name.
type Kind string

const (
	KindParseError            Kind = "parse_error"
	KindModuleNotFound        Kind = "module_not_found"
	KindImportNotFound        Kind = "import_not_found"
	KindAmbiguousExport       Kind = "ambiguous_export"
	KindCircularImport        Kind = "circular_import"
	KindInvalidModuleSpecifier Kind = "invalid_module_specifier"
	KindFsError               Kind = "fs_error"
	KindPathNotFound          Kind = "path_not_found"
	KindPathAlreadyExists     Kind = "path_already_exists"
	KindNotAFile              Kind = "not_a_file"
	KindNotADirectory         Kind = "not_a_directory"
	KindNotASymlink           Kind = "not_a_symlink"
	KindCircularSymlink       Kind = "circular_symlink"
	KindDirectoryNotEmpty     Kind = "directory_not_empty"
	KindInvalidPath           Kind = "invalid_path"
	KindFilesystemSizeExceeded Kind = "filesystem_size_exceeded"
	KindResourceError         Kind = "resource_error"
	KindNetworkError          Kind = "network_error"
	KindEncodingError         Kind = "encoding_error"
	KindTypeError             Kind = "type_error"
	KindRangeError            Kind = "range_error"
	KindConfigError           Kind = "config_error"
	KindInternalError         Kind = "internal_error"
)

// Span locates an error inside a named source snapshot, for diagnostic
// rendering by an external reporter (out of scope for this core).
type Span struct {
	Source string // a name identifying the snapshot (e.g. the specifier)
	Start  int    // byte offset, inclusive
	End    int    // byte offset, exclusive
}

// Error is the runtime's error value. It implements the error interface
// and carries enough structure for both script-facing exceptions and
// CLI-facing diagnostics.
type Error struct {
	Kind    Kind
	Code    string // e.g. "andromeda::fs::io_error"
	Message string
	Help    string
	URL     string
	Span    *Span
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a derived default code of
// the form "andromeda::<kind>".
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: "andromeda::" + string(kind), Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new Error of the given kind.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithHelp attaches a help string and returns the receiver for chaining.
func (e *Error) WithHelp(help string) *Error {
	e.Help = help
	return e
}

// WithURL attaches a documentation URL and returns the receiver.
func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

// WithSpan attaches a source span and returns the receiver.
func (e *Error) WithSpan(span Span) *Error {
	e.Span = &span
	return e
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed. It lets callers write hosterror.Is(err, hosterror.KindPathNotFound).
func Is(err error, kind Kind) bool {
	for err != nil {
		if he, ok := err.(*Error); ok {
			if he.Kind == kind {
				return true
			}
			err = he.Cause
			continue
		}
		break
	}
	return false
}
