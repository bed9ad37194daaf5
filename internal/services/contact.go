package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

// ContactResolver finds or creates the contact behind a phone number
type ContactResolver struct {
	store storage.Store
	log   zerolog.Logger
}

func NewContactResolver(store storage.Store, log zerolog.Logger) *ContactResolver {
	return &ContactResolver{
		store: store,
		log:   log.With().Str("component", "contacts").Logger(),
	}
}

// Lookup returns the contact with the given normalized phone without creating it
func (r *ContactResolver) Lookup(ctx context.Context, phone string) (*models.Contact, error) {
	return r.store.GetContactByPhone(ctx, phone)
}

// Resolve returns the id of the contact with the given normalized phone, creating it when unseen.
// Only the call that creates the contact attempts the guest link.
func (r *ContactResolver) Resolve(ctx context.Context, phone, nameHint, avatarHint string) (string, error) {
	if phone == "" {
		return "", invalidRequest("phone is required")
	}

	contact, err := r.store.GetContactByPhone(ctx, phone)
	if err == nil {
		return contact.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	name := strings.TrimSpace(nameHint)
	if name == "" {
		name = phone
	}
	candidate := &models.Contact{Phone: phone, Name: name}
	if avatarHint != "" {
		candidate.ProfilePicURL = &avatarHint
	}

	stored, created, err := r.store.CreateContactIfAbsent(ctx, candidate)
	if err != nil {
		return "", storeWriteError("create contact", err)
	}
	if created {
		r.log.Info().Str("contact", stored.ID).Str("phone", phone).Msg("New contact")
		r.linkGuest(ctx, stored)
	}
	return stored.ID, nil
}

// linkGuest attaches the first guest whose phone ends with the contact's trailing digits.
// First match wins; a guest that is already linked keeps its contact.
func (r *ContactResolver) linkGuest(ctx context.Context, contact *models.Contact) {
	suffix := utils.PhoneSuffix(contact.Phone, models.GuestPhoneSuffixLen)
	if len(suffix) < models.GuestPhoneSuffixLen {
		return
	}

	guest, err := r.store.FindGuestByPhoneSuffix(ctx, suffix)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		r.log.Warn().Err(err).Str("contact", contact.ID).Msg("Guest lookup failed")
		return
	}
	if guest.ContactID != nil {
		return
	}

	linked, err := r.store.LinkGuestToContact(ctx, guest.ID, contact.ID)
	if err != nil {
		r.log.Warn().Err(err).Str("contact", contact.ID).Str("guest", guest.ID).Msg("Guest link failed")
		return
	}
	if linked {
		r.log.Info().Str("contact", contact.ID).Str("guest", guest.ID).Msg("Contact linked to guest")
	}
}
