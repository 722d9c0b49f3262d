package domain

import (
	"context"
	"errors"
	"time"

	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
)

var ErrTemplateEmpty = errors.New("recurring_template_has_no_lines")

// Result summarizes one template generator pass.
type Result struct {
	Created int
	Lines   []string
}

// Service generates template occurrences. Each due template yields exactly
// one invoice per call; templates several periods behind catch up across
// scheduler invocations.
type Service interface {
	GenerateDue(ctx context.Context, org *tenantdomain.Organization, now time.Time) (Result, error)
}
