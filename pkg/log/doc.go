/*
Package log wraps zerolog with a global Logger, JSON or console output
selected at Init time, and a handful of child-logger helpers
(WithComponent, WithAppID, WithPath, WithDeploymentID) for attaching
request context without threading a logger through every call.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("control plane starting")

	deployLog := log.WithDeploymentID(plan.ID)
	deployLog.Info().Str("app_id", appId.String()).Msg("deployment started")
*/
package log
