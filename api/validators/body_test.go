package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
)

type redeemRequest struct {
	Points int64  `json:"points" validate:"gt=0"`
	Source string `json:"source" validate:"max=64"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"points":0}`))
	var dest redeemRequest
	err := DecodeJSONBody(req, &dest)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be greater than 0", details["points"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"points":5,"bonus":true}`))
	var dest redeemRequest
	assert.True(t, pkgerrors.HasCode(DecodeJSONBody(req, &dest), pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyAccepts(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"points":70,"source":"counter"}`))
	var dest redeemRequest
	require.NoError(t, DecodeJSONBody(req, &dest))
	assert.EqualValues(t, 70, dest.Points)
}

func TestReadRawBodyLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	body, err := ReadRawBody(req, 64)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))

	big := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 65)))
	_, err = ReadRawBody(big, 64)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
