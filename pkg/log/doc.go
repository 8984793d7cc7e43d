/*
Package log wraps zerolog with the logging conventions used across the
node status updater: a package-level Logger initialized once via
Init(Config), and a set of With* helpers that attach the fields heartbeat
and registration logs reach for most often (component, node, app,
container).

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	hbLog := log.WithComponent("heartbeat").With().Str("node_id", string(nodeID)).Logger()
	hbLog.Warn().Err(err).Msg("heartbeat round failed, will retry next interval")
*/
package log
