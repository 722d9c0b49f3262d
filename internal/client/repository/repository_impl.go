package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/billfold/billfold/internal/client/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() clientdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*clientdomain.Client, error) {
	var client clientdomain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, name, email, currency, autodebit_enabled, auto_suspend_enabled,
		        metadata, created_at, updated_at
		 FROM clients
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		id,
	).Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) FindAutodebitInstrument(ctx context.Context, db *gorm.DB, orgID, clientID snowflake.ID) (*clientdomain.PaymentInstrument, error) {
	var instrument clientdomain.PaymentInstrument
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, client_id, kind, vaulted, gateway_token, is_autodebit, created_at, updated_at
		 FROM payment_instruments
		 WHERE org_id = ? AND client_id = ? AND is_autodebit = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		orgID,
		clientID,
		true,
	).Scan(&instrument).Error
	if err != nil {
		return nil, err
	}
	if instrument.ID == 0 {
		return nil, nil
	}
	return &instrument, nil
}
