package enrollment

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is not allowed in the session's current state.
var ErrInvalidState = errors.New("invalid enrollment state")

// ErrNeedMorePhotos matches every *NeedMorePhotosError via errors.Is.
var ErrNeedMorePhotos = errors.New("need more photos")

// NeedMorePhotosError blocks enrollment until enough photos passed the quality gate.
type NeedMorePhotosError struct {
	Have int
	Need int
}

func (e *NeedMorePhotosError) Error() string {
	return fmt.Sprintf("need more photos: %d of %d accepted", e.Have, e.Need)
}

// Is makes errors.Is(err, ErrNeedMorePhotos) succeed.
func (e *NeedMorePhotosError) Is(target error) bool {
	return target == ErrNeedMorePhotos
}

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, s)
}
