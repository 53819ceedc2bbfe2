// Package dispatch delivers stanzas to connected resources.
//
// The Dispatcher contract is deliberately narrow: Send attempts delivery to
// every target and reports only the targets that failed, each with its
// cause. An empty result means every target accepted the stanza. Failures
// are data, not errors, so the router can tell a partially successful
// fan-out from a total failure.
//
// Failure causes are classified by Code. Only CodeResourceOffline and
// CodeUnknownChannel are bounceable: they tell the router that the
// recipient cannot be reached, so the sender gets a service-unavailable
// reply. Every other cause is logged by the router and otherwise ignored.
//
// LocalDispatcher is an in-process implementation backed by a Registry of
// Channels, one per connected resource.
package dispatch
