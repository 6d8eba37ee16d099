package session

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleInstantiation indicates the physics runtime or its filesystem
	// could not be brought up.
	ErrModuleInstantiation = errors.New("session: module instantiation failed")

	// ErrNetworkFetch indicates the scene document was unreachable or unreadable.
	ErrNetworkFetch = errors.New("session: network fetch failed")

	// ErrSceneLoad indicates the physics runtime rejected the document.
	ErrSceneLoad = errors.New("session: scene load failed")

	// ErrGeometryAttach indicates the model geometry could not be added to the scene.
	ErrGeometryAttach = errors.New("session: geometry attach failed")

	// ErrEnvironment indicates no graphics output could be created.
	ErrEnvironment = errors.New("session: environment unavailable")

	ErrAlreadyStarted = errors.New("session: already started")
	ErrNotStarted     = errors.New("session: not started")
	ErrDisposed       = errors.New("session: disposed")
)

// StartupError reports the stage a startup failed in. It matches both its
// Kind and the underlying cause with errors.Is.
type StartupError struct {
	Stage   Stage
	Kind    error
	Wrapped error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%v (stage %s): %v", e.Kind, e.Stage, e.Wrapped)
}

func (e *StartupError) Unwrap() []error { return []error{e.Kind, e.Wrapped} }
