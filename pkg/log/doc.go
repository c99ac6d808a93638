/*
Package log provides structured logging for hotworker using zerolog.

The package wraps a single global zerolog.Logger, initialized once via
Init, plus a set of WithX helpers that derive child loggers tagged with
a recurring field — component name, worker epoch, or artifact identity.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.WithComponent("watch.fs").Info().Msg("watcher started")
	log.WithEpoch(epoch).Info().Int("tasks", len(regs.Tasks)).Msg("worker generation started")
	log.WithArtifact(a.ID, a.Version).Warn().Err(err).Msg("artifact rejected")

# Design

A single global logger, configured once at startup, is simpler to thread
through the reload and lifecycle packages than passing a logger value
everywhere — every WithX helper derives from the same base so log level
and output configuration apply uniformly regardless of which subsystem
is logging.

Never log decoded plugin payloads at Info or above: artifact content is
untrusted and may be arbitrarily large or contain control characters.
*/
package log
