package repositories

import "errors"

type ErrNotFound struct {
}

func (e *ErrNotFound) Error() string {
	return "not found"
}

func IsNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

// ErrVersionConflict is returned by SaveGame when the stored document changed
// after it was loaded.
type ErrVersionConflict struct {
	GameCode string
	Version  int64
}

func (e *ErrVersionConflict) Error() string {
	return "game " + e.GameCode + " was modified concurrently"
}

func IsVersionConflict(err error) bool {
	var target *ErrVersionConflict
	return errors.As(err, &target)
}

type ErrGameExists struct {
	GameCode string
}

func (e *ErrGameExists) Error() string {
	return "game " + e.GameCode + " already exists"
}

func IsGameExists(err error) bool {
	var target *ErrGameExists
	return errors.As(err, &target)
}
