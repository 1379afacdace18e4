package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"gorm.io/gorm"
)

func TestFromDB(t *testing.T) {
	err := FromDB("client", gorm.ErrRecordNotFound)
	assert.True(t, Is(err, KindNotFound))
	assert.Equal(t, "client not found", PublicMessage(err))
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	err = FromDB("client", fmt.Errorf("create: %w", gorm.ErrDuplicatedKey))
	assert.True(t, Is(err, KindConflict))
	assert.Equal(t, "client already exists", PublicMessage(err))

	err = FromDB("client", errors.New("connection refused"))
	assert.True(t, Is(err, KindInternal))
	assert.Equal(t, "internal server error", PublicMessage(err))

	assert.NoError(t, FromDB("client", nil))

	conflict := Conflict("slot is taken", nil)
	assert.Same(t, conflict, FromDB("booking", conflict))
}

func TestMapping(t *testing.T) {
	wrapped := fmt.Errorf("create booking: %w", Conflict("slot is taken", nil))

	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))
	assert.Equal(t, codes.FailedPrecondition, GRPCCode(wrapped))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("bad", nil)))
	assert.Equal(t, codes.NotFound, GRPCCode(NotFound("x", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, codes.Unauthenticated, GRPCCode(Unauthorized("x", nil)))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Forbidden("x", nil)))
}
