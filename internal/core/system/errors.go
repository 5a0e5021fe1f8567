package system

import "github.com/rotisserie/eris"

var (
	// ErrScheduleCycle is returned by Build when Before/After constraints
	// form a cycle. No system runs.
	ErrScheduleCycle = eris.New("system: ordering constraints form a cycle")

	ErrDuplicateSystem = eris.New("system: duplicate system name")

	// ErrUnknownSystem is returned for constraints naming a system that was
	// never added.
	ErrUnknownSystem = eris.New("system: unknown system")

	// ErrSystemPanic wraps a panic recovered from a running system.
	ErrSystemPanic = eris.New("system: panic")
)
