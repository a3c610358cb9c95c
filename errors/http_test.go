package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapToHTTPStatus(t *testing.T) {
	req := require.New(t)

	req.Equal(http.StatusOK, MapToHTTPStatus(nil))
	req.Equal(http.StatusUnauthorized, MapToHTTPStatus(fmt.Errorf("%w: expired", ErrInvalidCredential)))
	req.Equal(http.StatusBadRequest, MapToHTTPStatus(fmt.Errorf("%w: empty peer", ErrValidation)))
	req.Equal(http.StatusInternalServerError, MapToHTTPStatus(fmt.Errorf("%w: closed", ErrPersistence)))
}
