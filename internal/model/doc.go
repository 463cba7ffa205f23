// Package model provides the canonical types shared by every pipeline stage.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal, so it stays
// the foundational layer with no circular dependencies.
//
// Key constraints:
//   - Entry status only moves forward (see Status.CanTransition)
//   - Metadata is an ordered list of keys with a closed value variant
//   - Work dates are civil dates (Date), never timestamps
//   - All JSON tags use snake_case
package model
