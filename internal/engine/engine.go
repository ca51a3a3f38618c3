// Package engine drives one apk build through the external toolchain.
//
// The Coordinator runs the fixed stage graph (resource index, compile,
// resource packaging alongside dex, unsigned package, sign, align) over a
// staged Layout. The Generator wraps it with app preparation, staging,
// build state records and notifications.
package engine
