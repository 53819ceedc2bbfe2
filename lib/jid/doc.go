// Package jid implements the addressing values used by the stanza router.
//
// An ID names either a single connected resource of an owner (the full form,
// local@domain/resource) or the owner itself independent of which resource is
// connected (the general form, local@domain). IDs are immutable comparable
// values and can be used directly as map keys.
//
// IDMap is a small generic map keyed by ID. The router uses it as the result
// type of directory lookups and as the receiver set produced by priority
// arbitration.
package jid
