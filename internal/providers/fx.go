package providers

import (
	"github.com/billfold/billfold/internal/providers/delivery"
	"github.com/billfold/billfold/internal/providers/email"
	"github.com/billfold/billfold/internal/providers/exchange"
	"github.com/billfold/billfold/internal/providers/payment"
	"github.com/billfold/billfold/internal/providers/plugin"
	"github.com/billfold/billfold/internal/providers/provisioning"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	delivery.Module,
	email.Module,
	exchange.Module,
	payment.Module,
	plugin.Module,
	provisioning.Module,
)
