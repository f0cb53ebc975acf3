package tensor

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// ErrIncomparableHandle is returned when a handle's dynamic type cannot be
// compared by identity, so its ownership cannot be recorded.
var ErrIncomparableHandle = errors.New("handle type is not comparable")

// DisposeAll disposes each handle and joins all non-nil errors.
// Typed nil values are ignored.
func DisposeAll(handles ...Handle) error {
	var err error
	for _, h := range handles {
		if isNilHandle(h) {
			continue
		}
		if disposeErr := h.Dispose(); disposeErr != nil {
			err = errors.Join(err, disposeErr)
		}
	}
	return err
}

func isNilHandle(h Handle) bool {
	if h == nil {
		return true
	}
	value := reflect.ValueOf(h)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}

func comparableHandle(h Handle) bool {
	return reflect.ValueOf(h).Comparable()
}

// sameHandle reports whether a and b are the same handle. A handle of a
// non-comparable type matches nothing.
func sameHandle(a, b Handle) bool {
	if a == nil || b == nil || !comparableHandle(a) || !comparableHandle(b) {
		return false
	}
	return a == b
}

type entry struct {
	handle Handle
	owned  bool
}

// Scope is an ownership ledger for one call. Every handle the call touches is
// recorded with an explicit owned flag; Release disposes the owned ones that
// are not being handed back to the caller.
//
// A Scope is not safe for concurrent use.
type Scope struct {
	entries []entry
}

// Track records h. A handle tracked as owned stays owned even if it is later
// tracked again as borrowed. Handles of a non-comparable type are not
// recorded and yield ErrIncomparableHandle.
func (s *Scope) Track(h Handle, owned bool) error {
	if isNilHandle(h) {
		return nil
	}
	if !comparableHandle(h) {
		return fmt.Errorf("%w: %T", ErrIncomparableHandle, h)
	}
	if i := s.index(h); i >= 0 {
		s.entries[i].owned = s.entries[i].owned || owned
		return nil
	}
	s.entries = append(s.entries, entry{handle: h, owned: owned})
	return nil
}

// TrackValue records every handle of v the scope does not hold yet. Handles
// already tracked keep their flag, so a borrowed buffer handed back inside v
// stays borrowed.
func (s *Scope) TrackValue(v Value, owned bool) error {
	var err error
	for _, h := range v.Handles() {
		if s.Tracks(h) {
			continue
		}
		err = errors.Join(err, s.Track(h, owned))
	}
	return err
}

func (s *Scope) index(h Handle) int {
	return slices.IndexFunc(s.entries, func(e entry) bool { return sameHandle(e.handle, h) })
}

// Tracks reports whether h is in the ledger, owned or not.
func (s *Scope) Tracks(h Handle) bool {
	return s.index(h) >= 0
}

// Owns reports whether h is tracked as owned.
func (s *Scope) Owns(h Handle) bool {
	if i := s.index(h); i >= 0 {
		return s.entries[i].owned
	}
	return false
}

// Disown drops h from the ledger without disposing it.
func (s *Scope) Disown(h Handle) {
	s.entries = slices.DeleteFunc(s.entries, func(e entry) bool { return sameHandle(e.handle, h) })
}

// Release disposes every owned handle not contained in keep and empties the
// ledger. Handles in keep are transferred out of the scope.
func (s *Scope) Release(keep Value) error {
	var err error
	for _, e := range s.entries {
		if !e.owned || keep.Contains(e.handle) {
			continue
		}
		if disposeErr := e.handle.Dispose(); disposeErr != nil {
			err = errors.Join(err, disposeErr)
		}
	}
	s.entries = nil
	return err
}

// Len returns the number of tracked handles.
func (s *Scope) Len() int { return len(s.entries) }
