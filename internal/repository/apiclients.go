package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/jmoiron/sqlx"
)

type APIClientsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.APIClient, error)
}

type APIClientsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAPIClientsRepository(db *sqlx.DB) *APIClientsRepositoryImpl {
	return &APIClientsRepositoryImpl{db: db}
}

var _ APIClientsRepository = (*APIClientsRepositoryImpl)(nil)

func (r *APIClientsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.APIClient, error) {
	var c model.APIClient
	err := r.db.GetContext(ctx, &c, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM api_clients
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
