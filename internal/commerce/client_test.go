package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/domain"
)

type fakeBackend struct {
	mu          sync.Mutex
	loggedIn    bool
	csrfCookie  bool
	csrfFetches atomic.Int32
	lastHeaders http.Header
	lastBody    map[string]any
	orderStatus int
	orderBody   string
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/me/", func(w http.ResponseWriter, r *http.Request) {
		f.csrfFetches.Add(1)
		if f.csrfCookie {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "cookie-token", Path: "/"})
		}
		if f.loggedIn {
			_, _ = w.Write([]byte(`{"id": 7, "username": "kim", "email": "kim@example.com"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id": null}`))
	})
	mux.HandleFunc("/api/cart/", func(w http.ResponseWriter, r *http.Request) {
		if !f.loggedIn {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"Authentication credentials were not provided."}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":3,"product":{"id":1,"name":"Logo Tee","price":"10.00","image":"/tee.png"},"quantity":2,"total_price":"20.00"}],"total_amount":"20.00","item_count":2}`))
	})
	mux.HandleFunc("/api/cart/add_to_cart/", f.record(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":3,"product":{"id":1,"name":"Logo Tee","price":10.0},"quantity":3,"total_price":30.0}],"total_amount":30.0,"item_count":3}`))
	}))
	mux.HandleFunc("/api/bonus-cart/update_quantity/", f.record(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"No items in cart"}`))
	}))
	mux.HandleFunc("/api/bonus-cart/clear_cart/", f.record(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Bonus cart cleared successfully"}`))
	}))
	mux.HandleFunc("/api/bonus-product/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":9,"name":"Digital Guide","price":"4.99","image":"/guide.png","is_digital":true}`))
	})
	mux.HandleFunc("/api/orders/", f.record(func(w http.ResponseWriter, r *http.Request) {
		status := f.orderStatus
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(f.orderBody))
	}))
	return mux
}

func (f *fakeBackend) record(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastHeaders = r.Header.Clone()
		f.lastBody = body
		f.mu.Unlock()
		next(w, r)
	}
}

func newTestClient(t *testing.T, backend *fakeBackend, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	client, err := NewClient(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return client
}

func TestCheckSession(t *testing.T) {
	backend := &fakeBackend{}
	client := newTestClient(t, backend)
	assert.False(t, client.CheckSession(context.Background()))

	backend.loggedIn = true
	assert.True(t, client.CheckSession(context.Background()))
}

func TestFetchCartDecodesSnapshot(t *testing.T) {
	backend := &fakeBackend{loggedIn: true}
	client := newTestClient(t, backend)

	snap, err := client.FetchCart(context.Background(), domain.CartPrimary)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "1", snap.Items[0].ProductRef)
	assert.Equal(t, "Logo Tee", snap.Items[0].ProductName)
	assert.Equal(t, 2, snap.ItemCount)
	assert.Equal(t, "20.00", snap.TotalAmount.String())
	assert.Equal(t, "10.00", snap.Items[0].UnitPrice.String())
}

func TestFetchCartAnonymousIsAbsent(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})
	_, err := client.FetchCart(context.Background(), domain.CartPrimary)
	assert.ErrorIs(t, err, ErrCartAbsent)
}

func TestMutateUsesCookieTokenAndReplacesSnapshot(t *testing.T) {
	backend := &fakeBackend{loggedIn: true, csrfCookie: true}
	client := newTestClient(t, backend, WithCSRFMetaToken("meta-token"))
	require.True(t, client.CheckSession(context.Background()))

	snap, err := client.Mutate(context.Background(), domain.CartPrimary, Add(1))
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ItemCount)
	assert.Equal(t, "30.00", snap.TotalAmount.String())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "cookie-token", backend.lastHeaders.Get("X-CSRFToken"))
	assert.Equal(t, float64(1), backend.lastBody["quantity"])
}

func TestMutateFallsBackToMetaToken(t *testing.T) {
	backend := &fakeBackend{loggedIn: true}
	client := newTestClient(t, backend, WithCSRFMetaToken("meta-token"))

	_, err := client.Mutate(context.Background(), domain.CartPrimary, Add(1))
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "meta-token", backend.lastHeaders.Get("X-CSRFToken"))
}

func TestMutateFailureCarriesReason(t *testing.T) {
	client := newTestClient(t, &fakeBackend{loggedIn: true})

	_, err := client.Mutate(context.Background(), domain.CartBonus, SetQuantity(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCartFailure)

	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "No items in cart", derr.Reason)
	assert.Equal(t, http.StatusNotFound, derr.Status)
}

func TestClearWithoutCartBodyYieldsEmptySnapshot(t *testing.T) {
	client := newTestClient(t, &fakeBackend{loggedIn: true})

	snap, err := client.Mutate(context.Background(), domain.CartBonus, Clear())
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.True(t, snap.TotalAmount.IsZero())
}

func TestFetchBonusProduct(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})
	product, err := client.FetchBonusProduct(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Digital Guide", product.Name)
	assert.Equal(t, "4.99", product.Price.String())
}

func TestSubmitOrderPrimesCSRFAndReturnsReceipt(t *testing.T) {
	backend := &fakeBackend{loggedIn: true, csrfCookie: true, orderBody: `{"id": 42, "status": "pending", "shirtigo_status": 500}`}
	client := newTestClient(t, backend)

	receipt, err := client.SubmitOrder(context.Background(), SubmissionFromCustomer(domain.CustomerInfo{
		FirstName: " Ada ", LastName: "Lovelace", Email: "ada@example.com", PostalCode: "10115",
	}))
	require.NoError(t, err)
	assert.Equal(t, "42", receipt.OrderID)
	assert.Equal(t, 500, receipt.FulfillmentStatus)
	assert.Equal(t, int32(1), backend.csrfFetches.Load())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "cookie-token", backend.lastHeaders.Get("X-CSRFToken"))
	assert.NotEmpty(t, backend.lastHeaders.Get("Idempotency-Key"))
	assert.Equal(t, "Ada", backend.lastBody["first_name"])
	assert.Equal(t, "10115", backend.lastBody["postal_code"])
}

func TestSubmitOrderSendsAttemptIdempotencyKey(t *testing.T) {
	backend := &fakeBackend{loggedIn: true, csrfCookie: true, orderBody: `{"id": 43, "status": "pending"}`}
	client := newTestClient(t, backend)

	order := SubmissionFromCustomer(domain.CustomerInfo{Email: "ada@example.com"})
	order.IdempotencyKey = "01J0ATTEMPT"
	for i := 0; i < 2; i++ {
		_, err := client.SubmitOrder(context.Background(), order)
		require.NoError(t, err)

		backend.mu.Lock()
		assert.Equal(t, "01J0ATTEMPT", backend.lastHeaders.Get("Idempotency-Key"))
		_, leaked := backend.lastBody["IdempotencyKey"]
		backend.mu.Unlock()
		assert.False(t, leaked, "key must not be part of the JSON body")
	}
}

func TestSubmitOrderRejected(t *testing.T) {
	backend := &fakeBackend{loggedIn: true, orderStatus: http.StatusInternalServerError, orderBody: "boom"}
	client := newTestClient(t, backend)

	_, err := client.SubmitOrder(context.Background(), OrderSubmission{Email: "ada@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendRejected)

	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 500, derr.Status)
	assert.Equal(t, "boom", derr.Body)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := NewClient(base)
	require.NoError(t, err)
	_, err = client.Mutate(context.Background(), domain.CartPrimary, Add(1))
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.False(t, client.CheckSession(context.Background()))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	breaker := NewBreaker("test", 2, 0)
	client, err := NewClient(base, WithBreaker(breaker))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _ = client.FetchCart(context.Background(), domain.CartPrimary)
	}
	assert.Equal(t, "open", breaker.State().String())
}
