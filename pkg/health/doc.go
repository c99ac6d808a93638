/*
Package health provides the reference liveness HTTP surface for an
embedding hotworker process, plus the small Checker interface used
elsewhere in the repo to probe external dependencies (the Temporal
frontend, the plugin feed) without hardcoding a single check mechanism.

Two checker kinds are implemented: HTTP and TCP. The core hot-reload
subsystems (watch, load, reload, lifecycle) do not import this package —
the HTTP endpoint is a convenience for the embedding application, not a
dependency of the reload path itself.

# Checker interface

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

# Usage

	srv := health.NewServer(health.ServerDeps{
		Worker: lifecycleManager,
		Checks: []health.NamedCheck{
			{Name: "temporal", Checker: health.NewTCPChecker(cfg.TemporalServer)},
		},
	}, nil)
	go srv.ListenAndServe(cfg.HealthAddr)

GET /health returns 200 with {status, uptime, memory, worker:{isRunning}}
when healthy, 503 otherwise.
*/
package health
