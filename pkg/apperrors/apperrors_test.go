package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		err  error
		kind string
	}{
		{NotFound("loan", id), KindNotFound},
		{InvalidState("loan %s is not pending approval", id), KindInvalidState},
		{Conflict("calculation for year %d already exists", 2024), KindConflict},
		{Validation("amount must be positive"), KindValidation},
		{fmt.Errorf("approve loan: %w", NotFound("loan", id)), KindNotFound},
		{errors.New("disk I/O error"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, Kind(c.err), c.err.Error())
	}
}

func TestNotFoundMessage(t *testing.T) {
	id := uuid.MustParse("6f1c2a52-3c43-4a39-8b6e-21d3d3f1c0aa")
	err := NotFound("installment", id)
	assert.Equal(t, "not found: installment 6f1c2a52-3c43-4a39-8b6e-21d3d3f1c0aa", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}
