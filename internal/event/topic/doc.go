// Package topic provides event type tokens for the event bus.
//
// # Topic Format
//
// Topics are free-form, but dot notation creates hierarchical namespaces
// that wildcard patterns can match:
//
//	input.key.pressed
//	asset.texture.loaded
//	renderer.frame.presented
//	ui.menu.opened
//
// # Wildcards
//
//   - "*" matches exactly one segment
//   - "**" matches zero or more segments
//
// Examples:
//
//	asset.*           matches asset.loaded (not asset.texture.loaded)
//	asset.**          matches asset.loaded, asset.texture.loaded
//	*.loaded          matches asset.loaded, level.loaded
//	**                matches everything
//
// Listener lookup is always exact; patterns are used for history queries.
//
// # Interning
//
// An Interner resolves each Topic to a dense integer ID once, at
// registration time, so registry lookups during dispatch key on integers.
//
//	in := topic.NewInterner()
//	id := in.Intern("input.key.pressed")
//	in.Name(id) // "input.key.pressed"
package topic
