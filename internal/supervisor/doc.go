// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package supervisor provides process supervision for Verdant using suture v4.

Every long-running component runs under a hierarchical supervisor tree with
automatic restart, failure isolation, and graceful shutdown:

	RootSupervisor ("verdant")
	├── DataSupervisor ("data-layer")
	│   └── SweeperService
	├── MessagingSupervisor ("messaging-layer")
	│   ├── EventBusService
	│   └── SuggestionService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A failing event bus restarts inside the messaging layer while the HTTP
server keeps answering cache lookups.

# Usage

	tree, err := supervisor.NewSupervisorTree(logger, supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewSweeperService(sweeper))
	tree.AddMessagingService(services.NewEventBusService(bus))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)

Supervisor events (start, stop, restart, backoff) are logged through slog
via the sutureslog adapter. The logger is normally produced by
logging.NewComponentSlogLogger so they share the zerolog output.
*/
package supervisor
