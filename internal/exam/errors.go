package exam

import "errors"

// Domain errors shared by the engine, its stores and its collaborators.
// Callers branch on them with errors.Is.
var (
	ErrNotFound                = errors.New("classroom not found")
	ErrSessionEnded            = errors.New("classroom session has ended")
	ErrInvalidInput            = errors.New("invalid input")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrStudentNotFound         = errors.New("student not found in classroom")
	ErrCodeTaken               = errors.New("classroom code already in use")
)
