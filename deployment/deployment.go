// Package deployment describes the live runtime a contribution is deployed into.
package deployment

import (
	"context"

	"ocm.software/open-component-model/contribution/contribution"
)

// Registration is the live handle a runtime context returns for a deployed contribution.
// It is owned by the runtime context.
type Registration interface {
	// Name is the live component name of the deployment.
	Name() string
	// SetPersistent marks the deployment as originating from durable storage.
	SetPersistent(persistent bool)
	IsPersistent() bool
}

// RuntimeContext deploys contribution content into a running component system.
type RuntimeContext interface {
	// Deploy makes the contribution live. A false result without error means the
	// runtime declined the deployment, e.g. because the component name is already live.
	// Errors signal unexpected faults such as malformed content.
	Deploy(ctx context.Context, c *contribution.Contribution) (Registration, bool, error)
	// Undeploy removes the live deployment. Undeploying something that is not
	// deployed succeeds without effect.
	Undeploy(ctx context.Context, c *contribution.Contribution) error
	IsDeployed(ctx context.Context, c *contribution.Contribution) (bool, error)
}
