package notification

import (
	"context"
	"errors"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

// UserCollection holds customer contact records keyed by user id.
const UserCollection = "users"

var ErrContactNotFound = errs.New(errs.NotFound, "user contact not found")

type Contact struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Directory resolves where to send a user's notifications.
type Directory struct {
	records store.RecordStoreInterface
}

func NewDirectory(rs store.RecordStoreInterface) *Directory {
	return &Directory{records: rs}
}

func (d *Directory) Lookup(ctx context.Context, userID string) (*Contact, error) {
	c, _, err := store.Load[Contact](ctx, d.records, UserCollection, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	return c, err
}

// Put creates or replaces a contact.
func (d *Directory) Put(ctx context.Context, c Contact) error {
	_, err := d.records.Create(ctx, UserCollection, c.UserID, c)
	if errors.Is(err, store.ErrAlreadyExists) {
		_, err = store.Mutate(ctx, d.records, UserCollection, c.UserID, func(cur *Contact) error {
			*cur = c
			return nil
		})
	}
	return err
}
