package android

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	purchaseTypeManaged      = "managedUser"
	purchaseTypeSubscription = "subscription"
	productStatusInactive    = "inactive"

	// purchaseState values of a ProductPurchase.
	purchaseStatePurchased = 0
	purchaseStateCanceled  = 1
	purchaseStatePending   = 2

	acknowledgementStateAcknowledged = 1
	consumptionStateConsumed         = 1
)

// Publisher is the subset of the Google Play Developer API the adapter needs.
type Publisher interface {
	Ping(ctx context.Context, packageName string) error

	GetProduct(ctx context.Context, packageName, sku string) (*androidpublisher.InAppProduct, error)

	GetProductPurchase(ctx context.Context, packageName, productID, token string) (*androidpublisher.ProductPurchase, error)
	ConsumeProduct(ctx context.Context, packageName, productID, token string) error
	AcknowledgeProduct(ctx context.Context, packageName, productID, token, payload string) error

	GetSubscriptionPurchase(ctx context.Context, packageName, subscriptionID, token string) (*androidpublisher.SubscriptionPurchase, error)
	AcknowledgeSubscription(ctx context.Context, packageName, subscriptionID, token, payload string) error
}

type publisher struct {
	svc *androidpublisher.Service
}

// NewPublisher creates a Publisher authenticated with the contents of a
// service account JSON file.
func NewPublisher(ctx context.Context, serviceAccountJSON []byte) (Publisher, error) {
	svc, err := androidpublisher.NewService(ctx, option.WithCredentialsJSON(serviceAccountJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create android publisher client: %w", err)
	}
	return &publisher{svc: svc}, nil
}

func (p *publisher) Ping(ctx context.Context, packageName string) error {
	_, err := p.svc.Inappproducts.List(packageName).MaxResults(1).Context(ctx).Do()
	return err
}

func (p *publisher) GetProduct(ctx context.Context, packageName, sku string) (*androidpublisher.InAppProduct, error) {
	return p.svc.Inappproducts.Get(packageName, sku).Context(ctx).Do()
}

func (p *publisher) GetProductPurchase(ctx context.Context, packageName, productID, token string) (*androidpublisher.ProductPurchase, error) {
	return p.svc.Purchases.Products.Get(packageName, productID, token).Context(ctx).Do()
}

func (p *publisher) ConsumeProduct(ctx context.Context, packageName, productID, token string) error {
	return p.svc.Purchases.Products.Consume(packageName, productID, token).Context(ctx).Do()
}

func (p *publisher) AcknowledgeProduct(ctx context.Context, packageName, productID, token, payload string) error {
	req := &androidpublisher.ProductPurchasesAcknowledgeRequest{DeveloperPayload: payload}
	return p.svc.Purchases.Products.Acknowledge(packageName, productID, token, req).Context(ctx).Do()
}

func (p *publisher) GetSubscriptionPurchase(ctx context.Context, packageName, subscriptionID, token string) (*androidpublisher.SubscriptionPurchase, error) {
	return p.svc.Purchases.Subscriptions.Get(packageName, subscriptionID, token).Context(ctx).Do()
}

func (p *publisher) AcknowledgeSubscription(ctx context.Context, packageName, subscriptionID, token, payload string) error {
	req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{DeveloperPayload: payload}
	return p.svc.Purchases.Subscriptions.Acknowledge(packageName, subscriptionID, token, req).Context(ctx).Do()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return 0
	}
	return apiErr.Code
}
