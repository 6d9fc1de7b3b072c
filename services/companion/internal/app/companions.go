package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"companionai/internal/util"
	"companionai/pkg/domain"
	"companionai/pkg/store"
	"companionai/pkg/validation"
)

// CreateCompanion validates in and stores a new companion owned by caller.
func (a *App) CreateCompanion(ctx context.Context, caller domain.Caller, in domain.CompanionInput) (domain.Companion, error) {
	if !caller.Authenticated() {
		return domain.Companion{}, ErrUnauthorized
	}
	values, err := a.checkInput(in)
	if err != nil {
		return domain.Companion{}, err
	}
	if err := a.requireCategory(values.CategoryID); err != nil {
		return domain.Companion{}, err
	}
	now := a.timestamp()
	c := domain.Companion{
		ID:           util.NewID(),
		CategoryID:   values.CategoryID,
		UserID:       caller.ID,
		UserName:     caller.FirstName,
		Src:          values.Src,
		Name:         values.Name,
		Description:  values.Description,
		Instructions: values.Instructions,
		Seed:         values.Seed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateCompanion(c); err != nil {
		return domain.Companion{}, fmt.Errorf("create companion: %w", err)
	}
	util.LoggerFromContext(ctx).Info("companion created", "companion_id", c.ID, "user_id", c.UserID)
	return c, nil
}

// UpdateCompanion overwrites the editable fields of companion id. Checks run
// in a fixed order: caller identity, required fields, id, field rules,
// existence, ownership, category.
func (a *App) UpdateCompanion(ctx context.Context, caller domain.Caller, id string, in domain.CompanionInput) (domain.Companion, error) {
	if !caller.Authenticated() {
		return domain.Companion{}, ErrUnauthorized
	}
	if missing := validation.MissingRequired(in); len(missing) > 0 {
		return domain.Companion{}, &MissingFieldsError{Fields: missing}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Companion{}, ErrCompanionIDRequired
	}
	values, errs := validation.Validate(in, a.rules)
	if errs != nil {
		return domain.Companion{}, &ValidationError{Fields: errs}
	}
	existing, err := a.ownedCompanion(caller, id)
	if err != nil {
		return domain.Companion{}, err
	}
	if err := a.requireCategory(values.CategoryID); err != nil {
		return domain.Companion{}, err
	}
	updated := existing
	updated.UserName = caller.FirstName
	updated.CategoryID = values.CategoryID
	updated.Src = values.Src
	updated.Name = values.Name
	updated.Description = values.Description
	updated.Instructions = values.Instructions
	updated.Seed = values.Seed
	updated.UpdatedAt = a.timestamp()
	if err := a.store.UpdateCompanion(updated); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Companion{}, ErrNotFound
		}
		return domain.Companion{}, fmt.Errorf("update companion: %w", err)
	}
	util.LoggerFromContext(ctx).Info("companion updated", "companion_id", id, "user_id", caller.ID)
	return updated, nil
}

// GetCompanion returns one companion.
func (a *App) GetCompanion(_ context.Context, id string) (domain.Companion, error) {
	c, ok, err := a.store.GetCompanion(strings.TrimSpace(id))
	if err != nil {
		return domain.Companion{}, err
	}
	if !ok {
		return domain.Companion{}, ErrNotFound
	}
	return c, nil
}

// ListCompanions returns companions newest first.
func (a *App) ListCompanions(_ context.Context, filter domain.CompanionFilter) ([]domain.Companion, error) {
	return a.store.ListCompanions(filter)
}

// DeleteCompanion removes a companion owned by caller along with its
// messages and, when it lives in our bucket, its image.
func (a *App) DeleteCompanion(ctx context.Context, caller domain.Caller, id string) (domain.Companion, error) {
	if !caller.Authenticated() {
		return domain.Companion{}, ErrUnauthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Companion{}, ErrCompanionIDRequired
	}
	existing, err := a.ownedCompanion(caller, id)
	if err != nil {
		return domain.Companion{}, err
	}
	if err := a.store.DeleteCompanion(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Companion{}, ErrNotFound
		}
		return domain.Companion{}, fmt.Errorf("delete companion: %w", err)
	}
	logger := util.LoggerFromContext(ctx)
	if key, ok := a.objectKey(existing.Src); ok && a.objects != nil {
		if err := a.objects.Delete(ctx, key); err != nil {
			logger.Warn("companion image cleanup failed", "companion_id", id, "key", key, "err", err)
		}
	}
	logger.Info("companion deleted", "companion_id", id, "user_id", caller.ID)
	return existing, nil
}

func (a *App) checkInput(in domain.CompanionInput) (domain.CompanionInput, error) {
	if missing := validation.MissingRequired(in); len(missing) > 0 {
		return domain.CompanionInput{}, &MissingFieldsError{Fields: missing}
	}
	values, errs := validation.Validate(in, a.rules)
	if errs != nil {
		return domain.CompanionInput{}, &ValidationError{Fields: errs}
	}
	return values, nil
}

func (a *App) ownedCompanion(caller domain.Caller, id string) (domain.Companion, error) {
	existing, ok, err := a.store.GetCompanion(id)
	if err != nil {
		return domain.Companion{}, fmt.Errorf("load companion: %w", err)
	}
	if !ok {
		return domain.Companion{}, ErrNotFound
	}
	if existing.UserID != caller.ID {
		return domain.Companion{}, ErrForbidden
	}
	return existing, nil
}

func (a *App) requireCategory(id string) error {
	_, ok, err := a.store.GetCategory(id)
	if err != nil {
		return fmt.Errorf("load category: %w", err)
	}
	if !ok {
		return ErrUnknownCategory
	}
	return nil
}
