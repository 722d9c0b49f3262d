// Package provisioning defines the contract between the billing engine and
// the server-side modules that create, suspend, and terminate services.
package provisioning

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Request carries everything a module needs to act on one service.
type Request struct {
	OrgID          snowflake.ID
	SubscriptionID snowflake.ID
	ClientID       snowflake.ID
	PackageName    string
	Payload        map[string]any
}

// Provisioner performs the server-side effect of a lifecycle transition.
// Implementations live outside this repository; the engine only drives them.
type Provisioner interface {
	Name() string
	Create(ctx context.Context, req Request) error
	Suspend(ctx context.Context, req Request) error
	Unsuspend(ctx context.Context, req Request) error
	Terminate(ctx context.Context, req Request) error
}
