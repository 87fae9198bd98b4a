// Package content supplies the material for announcements: a random quote from a
// CSV source and a reaction chosen from what the target chat allows.
//
// Selection goes through an injected Rand so tests can seed it.
package content
