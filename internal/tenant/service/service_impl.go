package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"gorm.io/gorm"
)

type service struct {
	db   *gorm.DB
	repo tenantdomain.Repository
}

func NewService(db *gorm.DB, repo tenantdomain.Repository) tenantdomain.Service {
	return &service{db: db, repo: repo}
}

func (s *service) List(ctx context.Context) ([]tenantdomain.Organization, error) {
	return s.repo.List(ctx, s.db)
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (tenantdomain.Organization, error) {
	org, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return tenantdomain.Organization{}, err
	}
	if org == nil {
		return tenantdomain.Organization{}, tenantdomain.ErrOrganizationNotFound
	}
	return *org, nil
}

func (s *service) GetBySlug(ctx context.Context, slug string) (tenantdomain.Organization, error) {
	org, err := s.repo.FindBySlug(ctx, s.db, slug)
	if err != nil {
		return tenantdomain.Organization{}, err
	}
	if org == nil {
		return tenantdomain.Organization{}, tenantdomain.ErrOrganizationNotFound
	}
	return *org, nil
}

func (s *service) Settings(ctx context.Context, orgID snowflake.ID) (tenantdomain.BillingSettings, error) {
	settings, err := s.repo.FindSettings(ctx, s.db, orgID)
	if err != nil {
		return tenantdomain.BillingSettings{}, err
	}
	if settings == nil {
		return tenantdomain.DefaultBillingSettings(orgID), nil
	}
	return *settings, nil
}
