package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"

	"github.com/code-payments/iap-billing/iap"
)

//go:embed schema.sql
var schema string

type store struct {
	db *sqlx.DB
}

// NewInPostgres wraps a database opened with the pgx (or nrpgx) driver.
func NewInPostgres(db *sql.DB) iap.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Migrate creates the purchase table if it doesn't exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *store) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+purchaseTable)
	if err != nil {
		panic(err)
	}
}

func (s *store) CreatePurchase(ctx context.Context, purchase *iap.Purchase) error {
	m := toModel(purchase, time.Now())

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO `+purchaseTable+` (`+allColumns+`)
		VALUES (:token, :orderId, :productId, :itemType, :platform, :state, :consumptionState, :acknowledged, :autoRenewing, :payload, :receipt, :transactionDate, :createdAt, :updatedAt)
	`, m)
	if isUniqueViolation(err) {
		return iap.ErrExists
	}
	return err
}

func (s *store) UpdatePurchase(ctx context.Context, purchase *iap.Purchase) error {
	m := toModel(purchase, time.Now())

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE `+purchaseTable+` SET
			"orderId" = :orderId,
			"productId" = :productId,
			"itemType" = :itemType,
			"platform" = :platform,
			"state" = :state,
			"consumptionState" = :consumptionState,
			"acknowledged" = :acknowledged,
			"autoRenewing" = :autoRenewing,
			"payload" = :payload,
			"receipt" = :receipt,
			"transactionDate" = :transactionDate,
			"updatedAt" = :updatedAt
		WHERE "token" = :token
	`, m)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return iap.ErrNotFound
	}
	return nil
}

func (s *store) GetPurchase(ctx context.Context, token string) (*iap.Purchase, error) {
	var m purchaseModel
	query := `SELECT ` + allColumns + ` FROM ` + purchaseTable + ` WHERE "token" = $1`
	err := s.db.GetContext(ctx, &m, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return fromModel(&m), nil
}

func (s *store) GetPurchases(ctx context.Context, itemType iap.ItemType) ([]*iap.Purchase, error) {
	var models []*purchaseModel
	query := `SELECT ` + allColumns + ` FROM ` + purchaseTable + `
		WHERE "itemType" = $1 AND "consumptionState" = $2
		ORDER BY "transactionDate" ASC`
	err := s.db.SelectContext(ctx, &models, query, int16(itemType), int16(iap.ConsumptionStateNotConsumed))
	if err != nil {
		return nil, err
	}

	purchases := make([]*iap.Purchase, 0, len(models))
	for _, m := range models {
		purchases = append(purchases, fromModel(m))
	}
	return purchases, nil
}

func (s *store) GetPurchaseByPayload(ctx context.Context, productID string, itemType iap.ItemType, payload string) (*iap.Purchase, error) {
	var m purchaseModel
	query := `SELECT ` + allColumns + ` FROM ` + purchaseTable + `
		WHERE "productId" = $1 AND "itemType" = $2 AND "payload" = $3 AND "consumptionState" = $4
		ORDER BY "transactionDate" DESC
		LIMIT 1`
	err := s.db.GetContext(ctx, &m, query, productID, int16(itemType), payload, int16(iap.ConsumptionStateNotConsumed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return fromModel(&m), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
