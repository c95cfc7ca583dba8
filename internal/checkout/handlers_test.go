package checkout

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sarfarazstark/audiophile/internal/config"
	"github.com/sarfarazstark/audiophile/internal/store"
)

func TestCreateRejectsInvalidJSON(t *testing.T) {
	h := &Handlers{
		Service: NewService(&fakeStore{}, &fakeProvider{}, nil, testConfig(config.ModeHosted), zerolog.Nop()),
		Logger:  zerolog.Nop(),
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_JSON")
}

func TestCreateReturnsInitiationResult(t *testing.T) {
	productID := uuid.New()
	st := &fakeStore{products: map[uuid.UUID]store.Product{
		productID: {ID: productID, Name: "ZX9 Speaker", Price: 450_000},
	}}
	provider := &fakeProvider{hostedURL: "https://test.payu.in/checkout/xyz"}
	h := &Handlers{
		Service: NewService(st, provider, nil, testConfig(config.ModeHosted), zerolog.Nop()),
		Logger:  zerolog.Nop(),
	}

	body := fmt.Sprintf(`{
		"customer": {
			"fullName": "Alexei Ward", "email": "alexei@mail.com", "phone": "+12025550136",
			"addressLine1": "1137 Williams Avenue", "city": "New York", "state": "NY",
			"postalCode": "10001", "country": "United States"
		},
		"items": [{"productId": %q, "quantity": 1}]
	}`, productID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"redirectUrl":"https://test.payu.in/checkout/xyz"`)
	require.Contains(t, rec.Body.String(), `"mode":"hosted"`)
}

func TestCreateMapsAppErrors(t *testing.T) {
	h := &Handlers{
		Service: NewService(&fakeStore{}, &fakeProvider{}, nil, testConfig(config.ModeHosted), zerolog.Nop()),
		Logger:  zerolog.Nop(),
	}

	body := fmt.Sprintf(`{
		"customer": {
			"fullName": "Alexei Ward", "email": "alexei@mail.com", "phone": "+12025550136",
			"addressLine1": "1137 Williams Avenue", "city": "New York", "state": "NY",
			"postalCode": "10001", "country": "United States"
		},
		"items": [{"productId": %q, "quantity": 1}]
	}`, uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "PRODUCT_NOT_FOUND")
}
