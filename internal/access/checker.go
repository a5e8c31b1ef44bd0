// Package access answers whether the host granted notification-listener
// access to the relay, and opens the host settings surface that grants it.
package access

import (
	"strings"

	logx "notifrelay/pkg/logx"
)

// Checker matches the relay's listener against the permission store.
type Checker struct {
	store    Store
	listener Component
	log      logx.Logger
}

func NewChecker(store Store, listener Component, log logx.Logger) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{store: store, listener: listener, log: log}
}

// Enabled reports whether the listener is in the enabled list. A missing
// store, a missing key and read errors all count as disabled.
func (c *Checker) Enabled() bool {
	if c == nil || c.store == nil {
		return false
	}
	v, ok, err := c.store.Lookup(Key)
	if err != nil {
		c.log.Warn("permission store unreadable", logx.Err(err))
		return false
	}
	if !ok || v == "" {
		return false
	}
	for _, entry := range strings.Split(v, ":") {
		comp, ok := ParseComponent(entry)
		if !ok {
			continue
		}
		if comp.Package == c.listener.Package && comp.Class == c.listener.Class {
			return true
		}
	}
	return false
}
