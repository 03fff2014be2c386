package utaformatix

import (
	"errors"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/bundle"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/evaluator"
)

var (
	// ErrInitialization: the library bundle could not be loaded.
	ErrInitialization = evaluator.ErrInitialization
	// ErrNotReady: the instance is not usable (failed and not recreated).
	ErrNotReady = evaluator.ErrNotReady
	// ErrNoSuchExport: the loaded library lacks the requested operation,
	// e.g. generating a format it can only read.
	ErrNoSuchExport = evaluator.ErrNoSuchExport
	// ErrConversion is matched by every *ConversionError.
	ErrConversion = evaluator.ErrConversion
	// ErrUnsupportedEncoding: the library needed a text encoding the host
	// cannot decode. Always also a conversion error.
	ErrUnsupportedEncoding = evaluator.ErrUnsupportedEncoding
	// ErrEvaluatorFault is matched by every *FaultError.
	ErrEvaluatorFault = evaluator.ErrEvaluatorFault
	// ErrInterrupted: the call was aborted, e.g. by its context.
	ErrInterrupted = evaluator.ErrInterrupted
	// ErrNoBundle: no bundle was configured and none is embedded.
	ErrNoBundle = bundle.ErrNoBundle

	ErrFormatNotRecognized = errors.New("format not recognized")
	ErrUnknownFormat       = errors.New("unknown format")
	ErrClosed              = errors.New("utaformatix: instance closed")
	ErrInvalidArgument     = errors.New("invalid argument")
)

type (
	// ConversionError carries the library's own message verbatim.
	ConversionError = evaluator.ConversionError
	FaultError      = evaluator.FaultError
	InitError       = evaluator.InitError
	ErrorKind       = evaluator.ErrorKind
)

const (
	KindEmptyProject          = evaluator.KindEmptyProject
	KindIllegalFile           = evaluator.KindIllegalFile
	KindIllegalNotePosition   = evaluator.KindIllegalNotePosition
	KindNotesOverlapping      = evaluator.KindNotesOverlapping
	KindUnsupportedFileFormat = evaluator.KindUnsupportedFileFormat
	KindUnsupportedLegacyPpsf = evaluator.KindUnsupportedLegacyPpsf
	KindUnexpected            = evaluator.KindUnexpected
)
