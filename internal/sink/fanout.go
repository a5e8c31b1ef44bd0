package sink

import (
	"errors"

	"notifrelay/internal/relay"
)

// Fanout is a relay subscriber that feeds several subscribers, so the single
// relay slot can serve both a live stream client and the delivery pipeline.
type Fanout []relay.Subscriber

func (f Fanout) Publish(rec relay.Record) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
