/*
Package events provides an in-memory publish-subscribe event bus for the
control plane's lifecycle events.

Delivery is best-effort and unordered across topics: a full subscriber
buffer drops the event for that subscriber rather than blocking the
publisher, so an event is delivered at most once. Events
published here are what GroupManager, DeploymentExecutor and
HealthSupervisor use to tell the outside world what happened without
coupling to how that information eventually reaches a client.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			log.Printf("%s: %s", event.Type, event.Message)
		}
	}()

	broker.Publish(events.DeploymentSuccess, "deployment d-1 completed", map[string]string{
		"deploymentId": "d-1",
	})

# Event catalog

GroupChangeSuccess: published by GroupManager once a new root is
committed, while the root-mutation lock is still held.

DeploymentSuccess / DeploymentFailed / DeploymentCanceled: published by
GroupManager when the executor reports a plan's outcome, or when a
deployment is canceled by a forced update or through the API.

FailedHealthCheck / HealthStatusChanged / UnhealthyTaskKillEvent: published
by HealthSupervisor as it folds probe results.

ApiPostEvent: published by the API controller after a successful mutating
request.

GroupChangeFailed, DeploymentInfo and StatusUpdateEvent are declared as
event types, but no component publishes them.
*/
package events
