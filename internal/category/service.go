// Package category serves the default and user defined item categories.
package category

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/db"
	"github.com/noah-isme/backend-dompet/internal/repo"
)

// Querier is the subset of repo.Queries the category service needs.
type Querier interface {
	ListCategories(ctx context.Context, userID int64) ([]repo.Category, error)
	CreateCategory(ctx context.Context, arg repo.CreateCategoryParams) (repo.Category, error)
	CategoryNameTaken(ctx context.Context, userID int64, name string) (bool, error)
}

// Category is the public view of a category.
type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	Color     string `json:"color,omitempty"`
	IsDefault bool   `json:"isDefault"`
}

func fromRow(c repo.Category) Category {
	return Category{ID: c.ID, Name: c.Name, Icon: c.Icon, Color: c.Color, IsDefault: c.IsDefault}
}

// CreateInput is a new user category.
type CreateInput struct {
	Name  string `json:"name" validate:"required,max=50"`
	Icon  string `json:"icon" validate:"max=50"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

// Service lists and creates categories.
type Service struct {
	queries Querier
}

func NewService(q Querier) (*Service, error) {
	if q == nil {
		return nil, errors.New("category: queries is required")
	}
	return &Service{queries: q}, nil
}

// List returns the defaults followed by the caller's own categories.
func (s *Service) List(ctx context.Context, userID int64) ([]Category, error) {
	rows, err := s.queries.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]Category, 0, len(rows))
	for _, c := range rows {
		out = append(out, fromRow(c))
	}
	return out, nil
}

// Create adds a category owned by userID. Names are unique per user,
// case-insensitively, and may not shadow a default.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Category{}, common.Unprocessable("name is required", map[string]string{"name": "is required"})
	}
	taken, err := s.queries.CategoryNameTaken(ctx, userID, name)
	if err != nil {
		return Category{}, fmt.Errorf("check category name: %w", err)
	}
	if taken {
		return Category{}, common.Conflict("CATEGORY_EXISTS", "category already exists", nil)
	}
	created, err := s.queries.CreateCategory(ctx, repo.CreateCategoryParams{
		UserID: userID,
		Name:   name,
		Icon:   strings.TrimSpace(in.Icon),
		Color:  strings.TrimSpace(in.Color),
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Category{}, common.Conflict("CATEGORY_EXISTS", "category already exists", err)
		}
		return Category{}, fmt.Errorf("create category: %w", err)
	}
	return fromRow(created), nil
}
