// Package display implements the persistent status surface: a descriptor
// shown under a numeric id, where showing the same id again updates the
// existing surface in place.
package display

import (
	"context"
	"errors"
)

type Priority int

const (
	PriorityMin Priority = iota - 2
	PriorityLow
	PriorityDefault
	PriorityHigh
)

// Descriptor is one rendering of the persistent status notification.
type Descriptor struct {
	Channel  string
	Title    string
	Body     string
	Expanded string
	Priority Priority
	Ongoing  bool
}

// Display shows descriptors. Implementations may do I/O; wrap them with
// Async before handing them to code on the event path.
type Display interface {
	Show(ctx context.Context, id int, d Descriptor) error
}

// Closer is implemented by displays that should remove the surface on teardown.
type Closer interface {
	Close(ctx context.Context, id int) error
}

// Multi shows on every display and joins the errors.
type Multi []Display

func (m Multi) Show(ctx context.Context, id int, d Descriptor) error {
	var errs []error
	for _, dsp := range m {
		if dsp == nil {
			continue
		}
		if err := dsp.Show(ctx, id, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close(ctx context.Context, id int) error {
	var errs []error
	for _, dsp := range m {
		if c, ok := dsp.(Closer); ok {
			if err := c.Close(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
