package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"karavan/internal/models"
)

// FindCategoryByName returns nil without error when no category matches.
func (db *DB) FindCategoryByName(ctx context.Context, ownerID, name string) (*models.Category, error) {
	query := `SELECT id, owner_id, name, created_at FROM categories WHERE owner_id = ? AND name = ?`

	var c models.Category
	err := db.db.QueryRowContext(ctx, query, ownerID, name).Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	query := `INSERT INTO categories (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, c.ID, c.OwnerID, c.Name, c.CreatedAt)
	return err
}

func (db *DB) FindFamilyByName(ctx context.Context, ownerID, name string) (*models.Family, error) {
	query := `SELECT id, owner_id, name, created_at FROM families WHERE owner_id = ? AND name = ?`

	var f models.Family
	err := db.db.QueryRowContext(ctx, query, ownerID, name).Scan(&f.ID, &f.OwnerID, &f.Name, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (db *DB) CreateFamily(ctx context.Context, f *models.Family) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	query := `INSERT INTO families (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, f.ID, f.OwnerID, f.Name, f.CreatedAt)
	return err
}

func (db *DB) FindAttributeByName(ctx context.Context, ownerID, name string) (*models.Attribute, error) {
	query := `SELECT id, owner_id, name, type, created_at FROM attributes WHERE owner_id = ? AND name = ?`

	var a models.Attribute
	err := db.db.QueryRowContext(ctx, query, ownerID, name).Scan(&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) CreateAttribute(ctx context.Context, a *models.Attribute) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	query := `INSERT INTO attributes (id, owner_id, name, type, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, a.ID, a.OwnerID, a.Name, a.Type, a.CreatedAt)
	return err
}

// UpsertProduct creates or updates a product keyed by (owner_id, sku) and
// replaces its attribute values. The product's ID is filled with the stored
// row's id on update.
func (db *DB) UpsertProduct(ctx context.Context, p *models.Product) error {
	subImages := ""
	if len(p.SubImages) > 0 {
		data, err := json.Marshal(p.SubImages)
		if err != nil {
			return fmt.Errorf("encode sub images: %w", err)
		}
		subImages = string(data)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	query := `
        INSERT INTO products (id, owner_id, sku, name, product_link, image_url, sub_images, category_id, family_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(owner_id, sku) DO UPDATE SET
            name = excluded.name,
            product_link = excluded.product_link,
            image_url = excluded.image_url,
            sub_images = excluded.sub_images,
            category_id = COALESCE(excluded.category_id, category_id),
            family_id = COALESCE(excluded.family_id, family_id),
            updated_at = excluded.updated_at
    `
	if _, err := tx.ExecContext(ctx, query,
		p.ID, p.OwnerID, p.SKU, p.Name, p.ProductLink, p.ImageURL, subImages,
		p.CategoryID, p.FamilyID, now, now,
	); err != nil {
		return err
	}

	// The conflict path keeps the original row id; read it back.
	var storedID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM products WHERE owner_id = ? AND sku = ?`, p.OwnerID, p.SKU,
	).Scan(&storedID); err != nil {
		return err
	}
	p.ID = storedID

	for _, av := range p.Attributes {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO product_attributes (product_id, attribute_id, value)
            VALUES (?, ?, ?)
            ON CONFLICT(product_id, attribute_id) DO UPDATE SET value = excluded.value
        `, storedID, av.AttributeID, av.Value); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetProductBySKU returns a product with its attribute values.
func (db *DB) GetProductBySKU(ctx context.Context, ownerID, sku string) (*models.Product, error) {
	query := `
        SELECT id, owner_id, sku, name, product_link, image_url, sub_images, category_id, family_id, created_at, updated_at
        FROM products WHERE owner_id = ? AND sku = ?
    `

	var p models.Product
	var subImages sql.NullString
	err := db.db.QueryRowContext(ctx, query, ownerID, sku).Scan(
		&p.ID, &p.OwnerID, &p.SKU, &p.Name, &p.ProductLink, &p.ImageURL,
		&subImages, &p.CategoryID, &p.FamilyID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subImages.Valid && strings.TrimSpace(subImages.String) != "" {
		if err := json.Unmarshal([]byte(subImages.String), &p.SubImages); err != nil {
			return nil, fmt.Errorf("decode sub images: %w", err)
		}
	}

	rows, err := db.db.QueryContext(ctx,
		`SELECT attribute_id, value FROM product_attributes WHERE product_id = ?`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var av models.AttributeValue
		if err := rows.Scan(&av.AttributeID, &av.Value); err != nil {
			return nil, err
		}
		p.Attributes = append(p.Attributes, av)
	}
	return &p, rows.Err()
}

// CountProducts is used by tests and stats reporting.
func (db *DB) CountProducts(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}
