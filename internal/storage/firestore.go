package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/storefront/internal/domain"
)

const (
	envEmulatorHost       = "FIRESTORE_EMULATOR_HOST"
	defaultDialTimeout    = 10 * time.Second
	firestoreOrdersSubCol = "orders"
)

// OpenFirestore creates a client for projectID. A non-empty emulatorHost routes traffic to the emulator.
func OpenFirestore(ctx context.Context, projectID, emulatorHost string, opts ...option.ClientOption) (*firestore.Client, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	if host := strings.TrimSpace(emulatorHost); host != "" {
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		opts = append(opts, option.WithoutAuthentication())
	}
	client, err := firestore.NewClient(dialCtx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

type firestoreOrder struct {
	Scope     string    `firestore:"scope"`
	Total     string    `firestore:"total"`
	CreatedAt time.Time `firestore:"createdAt"`
	Payload   string    `firestore:"payload"`
}

// FirestoreOrderLog stores orders under <collection>/<scope>/orders/<orderID>.
type FirestoreOrderLog struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreOrderLog roots the log at collection.
func NewFirestoreOrderLog(client *firestore.Client, collection string) *FirestoreOrderLog {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = "storefront_orders"
	}
	return &FirestoreOrderLog{client: client, collection: collection}
}

// Append creates the order document; an existing id yields ErrDuplicateOrder.
func (f *FirestoreOrderLog) Append(ctx context.Context, scope string, order domain.PersistedOrder) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	payload, err := encodeOrder(order)
	if err != nil {
		return err
	}
	doc := firestoreOrder{
		Scope:     scope,
		Total:     order.Capture.CapturedAmount.String(),
		CreatedAt: order.CreatedAt.UTC(),
		Payload:   string(payload),
	}
	_, err = f.orders(scope).Doc(order.ID).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("firestore: create order: %w", err)
	}
	return nil
}

// List returns the scope's orders ordered by document id.
func (f *FirestoreOrderLog) List(ctx context.Context, scope string) ([]domain.PersistedOrder, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return nil, err
	}
	iter := f.orders(scope).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var orders []domain.PersistedOrder
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list orders: %w", err)
		}
		var doc firestoreOrder
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore: decode order %s: %w", snap.Ref.ID, err)
		}
		order, err := decodeOrder([]byte(doc.Payload))
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (f *FirestoreOrderLog) orders(scope string) *firestore.CollectionRef {
	return f.client.Collection(f.collection).Doc(scope).Collection(firestoreOrdersSubCol)
}
