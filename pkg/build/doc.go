// Package build implements the Build & Placement Engine (C3): it
// consumes signed build requests off the pack topic, elects a single
// responsible node via an injected capability matcher, runs the build
// inside an ephemeral sandboxed container, and emits the resulting
// instance/agent/account state transitions through pkg/state.
package build
