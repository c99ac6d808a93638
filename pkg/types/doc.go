/*
Package types defines the data model shared by every hotworker subsystem:
artifacts discovered by a watcher, the tasks and workflows a loaded
artifact contributes, and the registration sets a reload hands to the
worker lifecycle manager.

# Core Types

Discovery:
  - Artifact: a versioned plugin package, identified by (ID, Version)
  - ArtifactKey: the identity half of an Artifact, used as a map key

Loaded code:
  - TaskHandle / TaskFunc: a callable task with the uniform
    (context, payload []byte) ([]byte, error) signature; the loader
    accepts only plugin tasks declared as func([]byte) ([]byte, error)
  - WorkflowTypeHandle: a workflow type descriptor handed to the
    orchestration SDK as-is
  - ContainerRef: identifies which CodeContainer generation a handle
    belongs to, without exposing the container itself

Registration:
  - RegistrationSet: the complete replacement set of tasks and workflows
    produced by a reload; Merge implements last-loaded-wins on a name
    collision and records a warning rather than rejecting the load

Configuration:
  - WatchMode: selects which plugin source watcher(s) run

# Usage

	regs := types.NewRegistrationSet()
	regs.Tasks["send-invoice"] = types.TaskHandle{
		Name: "send-invoice",
		Fn: func(ctx types.TaskContext, payload []byte) ([]byte, error) {
			return payload, nil
		},
	}

# Thread Safety

Values in this package are plain data; callers are responsible for their
own synchronization. A RegistrationSet is treated as immutable once
built — Merge always returns a new set rather than mutating its
receiver.
*/
package types
