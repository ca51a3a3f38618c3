package env

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigurationIncomplete is returned when required fields could not
	// be supplied or located
	ErrConfigurationIncomplete = errors.New("build configuration incomplete")

	// ErrUnrecognisedKey is returned for configuration keys the resolver
	// does not know
	ErrUnrecognisedKey = errors.New("unrecognised configuration key")

	// ErrNotDirectory is returned when a configured root is not a directory
	ErrNotDirectory = errors.New("not a directory")
)

// IncompleteError lists the configuration keys still unset after resolution
type IncompleteError struct {
	Fields []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%v: missing %s", ErrConfigurationIncomplete, strings.Join(e.Fields, ", "))
}

func (e *IncompleteError) Unwrap() error { return ErrConfigurationIncomplete }

// UnrecognisedKeyError names the keys that were rejected
type UnrecognisedKeyError struct {
	Keys []string
}

func (e *UnrecognisedKeyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnrecognisedKey, strings.Join(e.Keys, ", "))
}

func (e *UnrecognisedKeyError) Unwrap() error { return ErrUnrecognisedKey }
