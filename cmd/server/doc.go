// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package main is the entry point for the Verdant daemon.

Verdant keeps a device-local cache of plant analyses keyed by image
fingerprint, manages downloadable on-device models, and learns which
capture modes the user prefers so it can suggest them. When the remote
analysis service is unreachable it serves cached results or runs a cached
local model instead.

# Application Architecture

	RootSupervisor ("verdant")
	├── DataSupervisor ("data-layer")
	│   └── Retention sweeper (Badger purge + value log GC)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Event bus (analysis.stored, connectivity.changed)
	│   └── Suggestion pruner
	└── APISupervisor ("api-layer")
	    └── HTTP server (chi)

Initialization order:

 1. Configuration: Koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog, bridged to slog for suture and watermill
 3. Store: BadgerDB, falling back to memory when the path is unusable
 4. Registry: model catalog with persisted lifecycle state
 5. Learner and offline coordinator, subscribed to the event bus
 6. Analysis service and HTTP router
 7. Supervisor tree

# Configuration

Commonly used environment variables:

	STORE_PATH          Badger directory (default /data/verdant)
	INFERENCE_ENABLED   enable the remote analysis client
	INFERENCE_ENDPOINT  remote analysis URL
	HTTP_PORT           HTTP port (default 8787)
	LOG_LEVEL           trace, debug, info, warn, error

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
server first, then background downloads are awaited, then the store is
closed.
*/
package main
