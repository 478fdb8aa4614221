package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parceltrace/parceltrace/pkg/models"
)

// ShopItemService manages sellers' catalog entries.
type ShopItemService struct {
	pool *pgxpool.Pool
}

// NewShopItemService creates a ShopItemService.
func NewShopItemService(pool *pgxpool.Pool) *ShopItemService {
	return &ShopItemService{pool: pool}
}

// ShopItemParams are the mutable fields of a shop item.
type ShopItemParams struct {
	Name        string
	Description string
	Price       float64
	Quantity    int
}

func (p ShopItemParams) validate() error {
	if p.Name == "" {
		return NewValidationError("name", "must not be empty")
	}
	if p.Price < 0 {
		return NewValidationError("price", "must not be negative")
	}
	if p.Quantity < 0 {
		return NewValidationError("quantity", "must not be negative")
	}
	return nil
}

// Create adds a new item to the seller's catalog.
func (s *ShopItemService) Create(ctx context.Context, sellerID string, p ShopItemParams) (*models.ShopItem, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item := &models.ShopItem{
		ID:          uuid.New().String(),
		SellerID:    sellerID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Quantity:    p.Quantity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO shop_items (id, seller_id, name, description, price, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.SellerID, item.Name, item.Description, item.Price, item.Quantity, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert shop item: %w", err)
	}
	return item, nil
}

// Update modifies a seller's own item.
func (s *ShopItemService) Update(ctx context.Context, sellerID, itemID string, p ShopItemParams) (*models.ShopItem, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SellerID != sellerID {
		return nil, fmt.Errorf("%w: item belongs to another seller", ErrNotAuthorized)
	}

	item.Name = p.Name
	item.Description = p.Description
	item.Price = p.Price
	item.Quantity = p.Quantity
	item.UpdatedAt = time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`UPDATE shop_items SET name = $2, description = $3, price = $4, quantity = $5, updated_at = $6 WHERE id = $1`,
		item.ID, item.Name, item.Description, item.Price, item.Quantity, item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update shop item: %w", err)
	}
	return item, nil
}

// Delete removes a seller's own item.
func (s *ShopItemService) Delete(ctx context.Context, sellerID, itemID string) error {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.SellerID != sellerID {
		return fmt.Errorf("%w: item belongs to another seller", ErrNotAuthorized)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM shop_items WHERE id = $1`, itemID); err != nil {
		return fmt.Errorf("failed to delete shop item: %w", err)
	}
	return nil
}

// Get loads one item.
func (s *ShopItemService) Get(ctx context.Context, itemID string) (*models.ShopItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, seller_id, name, description, price, quantity, created_at, updated_at
		   FROM shop_items WHERE id = $1`, itemID)

	var item models.ShopItem
	var description *string
	err := row.Scan(&item.ID, &item.SellerID, &item.Name, &description,
		&item.Price, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shop item: %w", err)
	}
	if description != nil {
		item.Description = *description
	}
	return &item, nil
}

// List returns all items, optionally filtered by seller.
func (s *ShopItemService) List(ctx context.Context, sellerID string) ([]*models.ShopItem, error) {
	query := `SELECT id, seller_id, name, description, price, quantity, created_at, updated_at
	            FROM shop_items`
	args := []interface{}{}
	if sellerID != "" {
		query += ` WHERE seller_id = $1`
		args = append(args, sellerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shop items: %w", err)
	}
	defer rows.Close()

	var items []*models.ShopItem
	for rows.Next() {
		var item models.ShopItem
		var description *string
		if err := rows.Scan(&item.ID, &item.SellerID, &item.Name, &description,
			&item.Price, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan shop item: %w", err)
		}
		if description != nil {
			item.Description = *description
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}
