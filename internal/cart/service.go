package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages the per-user cart. A cart holds items from at most one
// kitchen at a time; item name, price and addons are snapshotted at add
// time so later menu edits never change a cart in flight.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, input AddItemInput) (*models.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	ClearTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type service struct {
	repo Repository
	tx   txRunner
}

// AddItemInput describes an add-to-cart request.
type AddItemInput struct {
	UserID     uuid.UUID
	MenuItemID uuid.UUID
	Quantity   int
	Addons     []models.OrderItemAddon
}

// NewService wires cart dependencies.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Cart{UserID: userID}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) AddItem(ctx context.Context, input AddItemInput) (*models.Cart, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.MenuItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "menu item id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		menuItem, err := repo.FindMenuItem(ctx, input.MenuItemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "menu item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load menu item")
		}
		if !menuItem.IsAvailable {
			return pkgerrors.New(pkgerrors.CodeConflict, "menu item is unavailable")
		}

		cart, err := repo.FindByUser(ctx, input.UserID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
			}
			cart = &models.Cart{UserID: input.UserID, KitchenID: &menuItem.KitchenID}
			if err := repo.Create(ctx, cart); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
			}
		}

		if len(cart.Items) > 0 && cart.KitchenID != nil && *cart.KitchenID != menuItem.KitchenID {
			return pkgerrors.New(pkgerrors.CodeConflict, "cart already holds items from another kitchen")
		}
		if cart.KitchenID == nil || *cart.KitchenID != menuItem.KitchenID {
			if err := repo.UpdateKitchen(ctx, cart.ID, &menuItem.KitchenID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind cart kitchen")
			}
		}

		item := &models.CartItem{
			CartID:     cart.ID,
			MenuItemID: menuItem.ID,
			Name:       menuItem.Name,
			PricePaise: menuItem.PricePaise,
			Quantity:   input.Quantity,
			Addons:     input.Addons,
		}
		if err := repo.CreateItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, input.UserID)
}

func (s *service) UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*models.Cart, error) {
	if userID == uuid.Nil || itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and item id required")
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}

	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart is empty")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	if quantity == 0 {
		return s.RemoveItem(ctx, userID, itemID)
	}

	affected, err := s.repo.UpdateItemQuantity(ctx, cart.ID, itemID, quantity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return s.Get(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil || itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and item id required")
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := repo.FindByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart is empty")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}

		affected, err := repo.DeleteItem(ctx, cart.ID, itemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}

		// Unbind the kitchen when the last item leaves.
		remaining := 0
		for _, item := range cart.Items {
			if item.ID != itemID {
				remaining++
			}
		}
		if remaining == 0 {
			if err := repo.UpdateKitchen(ctx, cart.ID, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unbind cart kitchen")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err = s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ClearTx(ctx, tx, userID)
	})
}

// ClearTx empties the cart inside the caller's transaction. The cart row
// itself survives so the unique user binding stays stable.
func (s *service) ClearTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	repo := s.repo.WithTx(tx)
	cart, err := repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	if err := repo.DeleteItems(ctx, cart.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart items")
	}
	if err := repo.UpdateKitchen(ctx, cart.ID, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unbind cart kitchen")
	}
	return nil
}
