package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promotion-engine/internal/common"
)

func TestAppErrorUnwrapsThroughWrapping(t *testing.T) {
	cause := errors.New("boom")
	appErr := common.NewAppError("INTERNAL", "something failed", http.StatusInternalServerError, cause)
	wrapped := fmt.Errorf("handler: %w", appErr)

	require.True(t, common.IsAppError(wrapped))
	require.ErrorIs(t, wrapped, cause)

	var target *common.AppError
	require.True(t, errors.As(wrapped, &target))
	require.Equal(t, "INTERNAL", target.Code)
	require.Equal(t, http.StatusInternalServerError, target.HTTPStatus)
}

func TestSha256HexIsStable(t *testing.T) {
	first := common.Sha256Hex([]byte("basket"))
	second := common.Sha256Hex([]byte("basket"))
	require.Equal(t, first, second)
	require.Len(t, first, 64)
	require.NotEqual(t, first, common.Sha256Hex([]byte("basket2")))
}
