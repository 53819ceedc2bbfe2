// Package router implements presence-aware stanza routing.
//
// Given a stanza addressed to an ID, the router decides which connected
// resources receive it, hands it to a Dispatcher, and falls back to a
// service-unavailable reply or to the offline queue when nothing can take
// it. When a resource later comes online, the Listener drains the owner's
// offline queue and retries delivery with a fixed budget.
//
// # Components
//
//   - Selector: priority arbitration over the resources of an owner.
//   - Handler: classifies each stanza and routes it.
//   - Retrier: bounded retry of a queued stanza, restoring it to the queue
//     when the budget is spent.
//   - RetryPool: worker pool that runs retries off the notification path.
//   - Listener: presence.Listener that schedules retries on connect.
//
// # Classification
//
// Handler.Handle looks at the recipient of each stanza in this order:
//
//  1. No recipient: the stanza is fanned out to every subscriber of the
//     sender, as given by the Roster.
//  2. Remote domain: the stanza is handed to the Outbound collaborator.
//  3. Unknown local account: the sender receives service-unavailable.
//  4. Full-form recipient: delivered to that resource if it is connected,
//     otherwise routed as if addressed to the owner.
//  5. General-form recipient: delivered to the highest-priority resources.
//
// # Priority arbitration
//
// Arbitration keeps every resource that shares the highest priority seen,
// starting from a floor of zero. A resource with negative priority is
// therefore never selected for a general-form recipient, even when it is
// the only one connected; it still receives stanzas addressed to its full
// ID.
//
// # Failure handling
//
// Only a missing or failing Directory is returned as an error from Handle
// (wrapped with ErrServiceUnavailable). Per-target delivery failures are
// inspected: when every target failed with a resource-offline or
// unknown-channel cause, the stanza is undeliverable and the sender is sent
// a service-unavailable reply, or the stanza is queued when store-and-forward
// is enabled. Other causes are logged and counted. Error stanzas are never
// answered with another error.
package router
