package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Category returns d's classified category, defaulting to "Other".
func (s *Store) Category(d string) (string, error) {
	var category string
	err := s.db.QueryRow(`SELECT category FROM domain_categories WHERE domain = ?`, d).Scan(&category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultCategory, nil
		}
		return DefaultCategory, fmt.Errorf("get category: %w", err)
	}
	return category, nil
}

// SetCategory records d's category, replacing any prior classification.
func (s *Store) SetCategory(d, category string) error {
	if category == "" {
		category = DefaultCategory
	}
	_, err := s.db.Exec(`
		INSERT INTO domain_categories (domain, category) VALUES (?, ?)
		ON CONFLICT(domain) DO UPDATE SET category = excluded.category`,
		d, category,
	)
	if err != nil {
		return fmt.Errorf("set category: %w", err)
	}
	return nil
}

// SetCategories records a batch of classifications in one transaction.
func (s *Store) SetCategories(categories map[string]string) error {
	if len(categories) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO domain_categories (domain, category) VALUES (?, ?)
		ON CONFLICT(domain) DO UPDATE SET category = excluded.category`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for d, category := range categories {
		if category == "" {
			category = DefaultCategory
		}
		if _, err := stmt.Exec(d, category); err != nil {
			return fmt.Errorf("set category %s: %w", d, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Categories returns all classified domains.
func (s *Store) Categories() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT domain, category FROM domain_categories`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := make(map[string]string)
	for rows.Next() {
		var d, category string
		if err := rows.Scan(&d, &category); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories[d] = category
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}
