package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
)

type memCartRepo struct {
	carts     map[uuid.UUID]*models.Cart
	menuItems map[uuid.UUID]*models.MenuItem
}

func newMemCartRepo(menuItems ...*models.MenuItem) *memCartRepo {
	repo := &memCartRepo{
		carts:     make(map[uuid.UUID]*models.Cart),
		menuItems: make(map[uuid.UUID]*models.MenuItem),
	}
	for _, item := range menuItems {
		repo.menuItems[item.ID] = item
	}
	return repo
}

func (m *memCartRepo) WithTx(tx *gorm.DB) Repository { return m }

func (m *memCartRepo) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	for _, cart := range m.carts {
		if cart.UserID == userID {
			copied := *cart
			copied.Items = append([]models.CartItem(nil), cart.Items...)
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memCartRepo) Create(ctx context.Context, cart *models.Cart) error {
	cart.ID = uuid.New()
	m.carts[cart.ID] = cart
	return nil
}

func (m *memCartRepo) UpdateKitchen(ctx context.Context, cartID uuid.UUID, kitchenID *uuid.UUID) error {
	cart, ok := m.carts[cartID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cart.KitchenID = kitchenID
	return nil
}

func (m *memCartRepo) CreateItem(ctx context.Context, item *models.CartItem) error {
	cart, ok := m.carts[item.CartID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	item.ID = uuid.New()
	cart.Items = append(cart.Items, *item)
	return nil
}

func (m *memCartRepo) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (int64, error) {
	cart, ok := m.carts[cartID]
	if !ok {
		return 0, nil
	}
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items[i].Quantity = quantity
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memCartRepo) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error) {
	cart, ok := m.carts[cartID]
	if !ok {
		return 0, nil
	}
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memCartRepo) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	if cart, ok := m.carts[cartID]; ok {
		cart.Items = nil
	}
	return nil
}

func (m *memCartRepo) FindMenuItem(ctx context.Context, menuItemID uuid.UUID) (*models.MenuItem, error) {
	item, ok := m.menuItems[menuItemID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return item, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newCartService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(repo, fakeTxRunner{})
	require.NoError(t, err)
	return svc
}

func TestAddItemSnapshotsMenuPrice(t *testing.T) {
	kitchenID := uuid.New()
	menuItem := &models.MenuItem{ID: uuid.New(), KitchenID: kitchenID, Name: "Paneer Tikka", PricePaise: 24900, IsAvailable: true}
	repo := newMemCartRepo(menuItem)
	svc := newCartService(t, repo)
	userID := uuid.New()

	cart, err := svc.AddItem(context.Background(), AddItemInput{
		UserID:     userID,
		MenuItemID: menuItem.ID,
		Quantity:   2,
		Addons:     []models.OrderItemAddon{{Name: "Extra chutney", PricePaise: 1500}},
	})
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, "Paneer Tikka", cart.Items[0].Name)
	assert.EqualValues(t, 24900, cart.Items[0].PricePaise)
	require.NotNil(t, cart.KitchenID)
	assert.Equal(t, kitchenID, *cart.KitchenID)

	// (24900 + 1500) * 2
	assert.EqualValues(t, 52800, cart.TotalPaise())

	// A later menu edit must not change the snapshot.
	menuItem.PricePaise = 99900
	cart, err = svc.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.EqualValues(t, 24900, cart.Items[0].PricePaise)
}

func TestAddItemFromSecondKitchenConflicts(t *testing.T) {
	first := &models.MenuItem{ID: uuid.New(), KitchenID: uuid.New(), Name: "Dal", PricePaise: 12000, IsAvailable: true}
	second := &models.MenuItem{ID: uuid.New(), KitchenID: uuid.New(), Name: "Biryani", PricePaise: 30000, IsAvailable: true}
	repo := newMemCartRepo(first, second)
	svc := newCartService(t, repo)
	userID := uuid.New()

	_, err := svc.AddItem(context.Background(), AddItemInput{UserID: userID, MenuItemID: first.ID, Quantity: 1})
	require.NoError(t, err)

	_, err = svc.AddItem(context.Background(), AddItemInput{UserID: userID, MenuItemID: second.ID, Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestAddItemRejectsUnavailable(t *testing.T) {
	menuItem := &models.MenuItem{ID: uuid.New(), KitchenID: uuid.New(), Name: "Off menu", PricePaise: 100, IsAvailable: false}
	repo := newMemCartRepo(menuItem)
	svc := newCartService(t, repo)

	_, err := svc.AddItem(context.Background(), AddItemInput{UserID: uuid.New(), MenuItemID: menuItem.ID, Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestUpdateItemQuantityToZeroRemoves(t *testing.T) {
	menuItem := &models.MenuItem{ID: uuid.New(), KitchenID: uuid.New(), Name: "Roti", PricePaise: 2000, IsAvailable: true}
	repo := newMemCartRepo(menuItem)
	svc := newCartService(t, repo)
	userID := uuid.New()

	cart, err := svc.AddItem(context.Background(), AddItemInput{UserID: userID, MenuItemID: menuItem.ID, Quantity: 3})
	require.NoError(t, err)
	itemID := cart.Items[0].ID

	cart, err = svc.UpdateItemQuantity(context.Background(), userID, itemID, 0)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Nil(t, cart.KitchenID)
}

func TestRemoveUnknownItem(t *testing.T) {
	menuItem := &models.MenuItem{ID: uuid.New(), KitchenID: uuid.New(), Name: "Roti", PricePaise: 2000, IsAvailable: true}
	repo := newMemCartRepo(menuItem)
	svc := newCartService(t, repo)
	userID := uuid.New()

	_, err := svc.AddItem(context.Background(), AddItemInput{UserID: userID, MenuItemID: menuItem.ID, Quantity: 1})
	require.NoError(t, err)

	_, err = svc.RemoveItem(context.Background(), userID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestClearEmptiesButKeepsCart(t *testing.T) {
	menuItem := &models.MenuItem{ID: uuid.New(), KitchenID: uuid.New(), Name: "Thali", PricePaise: 35000, IsAvailable: true}
	repo := newMemCartRepo(menuItem)
	svc := newCartService(t, repo)
	userID := uuid.New()

	_, err := svc.AddItem(context.Background(), AddItemInput{UserID: userID, MenuItemID: menuItem.ID, Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Clear(context.Background(), userID))

	cart, err := svc.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Nil(t, cart.KitchenID)
	assert.Len(t, repo.carts, 1)
}

func TestGetEmptyCartForNewUser(t *testing.T) {
	svc := newCartService(t, newMemCartRepo())
	userID := uuid.New()

	cart, err := svc.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, cart.UserID)
	assert.Empty(t, cart.Items)
}
