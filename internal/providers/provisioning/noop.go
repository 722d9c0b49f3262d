package provisioning

import "context"

// Noop is the module for services with no server-side footprint.
type Noop struct{}

func (Noop) Name() string { return "none" }

func (Noop) Create(context.Context, Request) error { return nil }

func (Noop) Suspend(context.Context, Request) error { return nil }

func (Noop) Unsuspend(context.Context, Request) error { return nil }

func (Noop) Terminate(context.Context, Request) error { return nil }
