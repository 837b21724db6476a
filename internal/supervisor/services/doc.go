// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package services provides suture.Service wrappers for Verdant components.

Each wrapper translates a component lifecycle into suture's Serve pattern:

	HTTPServerService   ListenAndServe / Shutdown (net/http)
	SweeperService      Start / Stop (store.Sweeper)
	EventBusService     Run(ctx) (eventbus.Bus)
	SuggestionService   ticker loop calling Learner.PruneStale

Return values determine supervisor behavior:

	nil         -> service stopped cleanly, will not restart
	error       -> service crashed, supervisor will restart
	ctx.Err()   -> shutdown requested, normal termination

All services implement fmt.Stringer so suture can name them in log output.
*/
package services
