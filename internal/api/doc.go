// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package api provides the HTTP surface of the Verdant daemon.

Routes:

	POST   /api/v1/analyses               lookup or fetch an analysis
	GET    /api/v1/cache/stats            analysis cache size
	DELETE /api/v1/cache                  clear the analysis cache
	POST   /api/v1/cache/purge            delete analyses older than N days
	GET    /api/v1/models                 model catalog with state
	GET    /api/v1/models/{id}            one model
	POST   /api/v1/models/{id}/download   acquire a model (?wait=true blocks)
	DELETE /api/v1/models/{id}            evict a cached model
	GET    /api/v1/suggestions            live suggestions (?limit=N)
	GET    /api/v1/connectivity           current online/offline state
	POST   /api/v1/connectivity           report a connectivity change
	GET    /api/v1/health/live            liveness probe
	GET    /api/v1/health/ready           readiness probe
	GET    /metrics                       Prometheus metrics

Every JSON response uses the APIResponse envelope. Service errors are mapped
to stable error codes in errors.go; raw internal errors are logged and never
returned to clients.
*/
package api
