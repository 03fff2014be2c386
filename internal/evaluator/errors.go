package evaluator

import (
	"errors"
	"fmt"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/textcodec"
)

var (
	// ErrInitialization is matched by every *InitError.
	ErrInitialization = errors.New("evaluator initialization failed")
	// ErrNotReady is returned by Invoke outside the ready state.
	ErrNotReady = errors.New("evaluator not ready")
	// ErrNoSuchExport is returned when the library has no callable export
	// with the requested name.
	ErrNoSuchExport = errors.New("no such export")
	// ErrConversion is matched by every *ConversionError.
	ErrConversion = errors.New("conversion failed")
	// ErrUnsupportedEncoding is matched by a *ConversionError raised from a
	// TextDecoder asked for an encoding the host cannot decode.
	ErrUnsupportedEncoding = textcodec.ErrUnsupportedEncoding
	// ErrEvaluatorFault is matched by every *FaultError.
	ErrEvaluatorFault = errors.New("evaluator fault")
	// ErrInterrupted is the cause of a fault produced by Interrupt.
	ErrInterrupted = errors.New("evaluation interrupted")
	// ErrNeverSettled is the cause of a fault produced when a returned
	// promise is still pending and nothing is left that could settle it.
	ErrNeverSettled = errors.New("promise can never settle")
)

// encodingNotSupportedCode is the code TextDecoder puts on its RangeError.
const encodingNotSupportedCode = "ERR_ENCODING_NOT_SUPPORTED"

// ErrorKind classifies an exception thrown by the library.
type ErrorKind string

const (
	KindEmptyProject          ErrorKind = "EmptyProject"
	KindIllegalFile           ErrorKind = "IllegalFile"
	KindIllegalNotePosition   ErrorKind = "IllegalNotePosition"
	KindNotesOverlapping      ErrorKind = "NotesOverlapping"
	KindUnsupportedFileFormat ErrorKind = "UnsupportedFileFormat"
	KindUnsupportedLegacyPpsf ErrorKind = "UnsupportedLegacyPpsf"
	KindUnexpected            ErrorKind = "Unexpected"
)

// ConversionError is an exception thrown, or a rejection raised, by the
// library. Its message is the library's own, unchanged.
type ConversionError struct {
	Export string
	Kind   ErrorKind
	// IllegalFileKind is the exception's class name when Kind is
	// KindIllegalFile, e.g. "XmlElementNotFound".
	IllegalFileKind string
	Name            string // the exception's name property, if any
	Message         string
	Code            string // the exception's code property, if any
}

func (e *ConversionError) Error() string { return e.Message }

// Is matches ErrConversion, and ErrUnsupportedEncoding for unsupported
// TextDecoder labels.
func (e *ConversionError) Is(target error) bool {
	switch target {
	case ErrConversion:
		return true
	case ErrUnsupportedEncoding:
		return e.Code == encodingNotSupportedCode
	}
	return false
}

// FaultError is a failure of the evaluator itself rather than of the
// library: engine errors, interrupts, recovered panics, results that
// cannot be marshaled, promises that never settle.
type FaultError struct {
	Op  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("evaluator fault in %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func (e *FaultError) Is(target error) bool { return target == ErrEvaluatorFault }

// InitError reports why Initialize failed.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("evaluator initialization failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInitialization }
