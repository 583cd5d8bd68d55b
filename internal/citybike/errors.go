package citybike

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageLoad     Stage = "load"
	StageValidate Stage = "validate"
	StageConnect  Stage = "connect"
	StageInsert   Stage = "insert"
)

// LoadError reports a failure reading input files or writing to the database.
type LoadError struct {
	Stage  Stage
	Source string // file path or table name
	Err    error
}

func (e LoadError) Error() string {
	stage := e.Stage
	if stage == "" {
		stage = StageLoad
	}
	switch {
	case e.Source != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", stage, e.Source, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", stage, e.Err)
	case e.Source != "":
		return fmt.Sprintf("%s %s failed", stage, e.Source)
	default:
		return fmt.Sprintf("%s failed", stage)
	}
}

func (e LoadError) Unwrap() error { return e.Err }

// ValidationError reports a field that could not be coerced to its type.
type ValidationError struct {
	Source string
	Line   int
	Field  string
	Value  string
	Err    error
}

func (e ValidationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s:%d: %s: invalid value %q", e.Source, e.Line, e.Field, e.Value)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid value %q", e.Field, e.Value)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

func IsLoad(err error) bool {
	var target LoadError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

// StageOf returns the stage an error was raised in, or "" when unknown.
func StageOf(err error) Stage {
	var le LoadError
	if errors.As(err, &le) {
		if le.Stage == "" {
			return StageLoad
		}
		return le.Stage
	}
	if IsValidation(err) {
		return StageValidate
	}
	return ""
}

// Exit codes per failing stage.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitConfig   = 10
	ExitConnect  = 11
	ExitLoad     = 20
	ExitValidate = 21
	ExitInsert   = 22
)

// ErrInvalidConfig marks configuration errors.
var ErrInvalidConfig = errors.New("invalid configuration")

func ExitCodeForError(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrInvalidConfig) {
		return ExitConfig
	}
	switch StageOf(err) {
	case StageLoad:
		return ExitLoad
	case StageValidate:
		return ExitValidate
	case StageConnect:
		return ExitConnect
	case StageInsert:
		return ExitInsert
	}
	return ExitFailure
}
