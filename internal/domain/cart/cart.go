package cart

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("cart: not found")
	ErrEmpty           = errors.New("cart: empty")
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")
)

type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Cart holds one shopper's mutable line items, keyed by product so re-adding
// a product merges quantities.
type Cart struct {
	OwnerID   string          `json:"owner_id"`
	Lines     map[string]Line `json:"lines"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func New(ownerID string) *Cart {
	return &Cart{
		OwnerID:   ownerID,
		Lines:     make(map[string]Line),
		UpdatedAt: time.Now().UTC(),
	}
}

// Add merges quantity into an existing line or creates a new one.
func (c *Cart) Add(productID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	line := c.Lines[productID]
	line.ProductID = productID
	line.Quantity += quantity
	c.Lines[productID] = line
	c.touch()
	return nil
}

// Set replaces a line's quantity; zero removes the line.
func (c *Cart) Set(productID string, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	if quantity == 0 {
		delete(c.Lines, productID)
	} else {
		c.Lines[productID] = Line{ProductID: productID, Quantity: quantity}
	}
	c.touch()
	return nil
}

func (c *Cart) Remove(productID string) {
	delete(c.Lines, productID)
	c.touch()
}

func (c *Cart) Empty() bool { return len(c.Lines) == 0 }

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Lines = make(map[string]Line, len(c.Lines))
	for k, v := range c.Lines {
		clone.Lines[k] = v
	}
	return &clone
}

func (c *Cart) touch() {
	c.UpdatedAt = time.Now().UTC()
}
