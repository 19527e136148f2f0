package common_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

func TestKindOf(t *testing.T) {
	cfgErr := common.NewKindError(common.KindConfiguration, "not_configured", "payment unavailable", nil)
	require.Equal(t, common.KindConfiguration, common.KindOf(cfgErr))
	require.Equal(t, common.KindConfiguration, common.KindOf(fmt.Errorf("wrap: %w", cfgErr)))
	require.Equal(t, common.KindTransport, common.KindOf(context.DeadlineExceeded))
	require.Equal(t, common.KindInternal, common.KindOf(errors.New("boom")))
	require.Equal(t, common.ErrorKind(""), common.KindOf(nil))
	require.Equal(t, common.KindNotFound, common.KindOf(common.NewAppError("order_not_found", "missing", http.StatusNotFound, nil)))
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, common.NewKindError(common.KindValidation, "cart_empty", "Cart is empty", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.JSONEq(t, `{"error":{"code":"cart_empty","message":"Cart is empty"}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	common.WriteError(rr, errors.New("hidden"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "hidden")
}
