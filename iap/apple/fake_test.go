package apple

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/awa/go-iap/appstore"
	"github.com/google/uuid"

	"github.com/code-payments/iap-billing/catalog"
	"github.com/code-payments/iap-billing/iap"
)

const (
	testBundleID    = "com.example.billing"
	statusMalformed = 21002
)

var errUnreachable = errors.New("app store unreachable")

// fakeAppStore plays both the device, which buys products and hands over
// receipts, and the verifyReceipt endpoint.
type fakeAppStore struct {
	mu          sync.Mutex
	unavailable bool
	catalog     *catalog.Catalog
	receipts    map[string]*appstore.IAPResponse
	rejected    map[string]struct{}

	lastReceipt string
	replay      bool
}

func newFakeAppStore(products *catalog.Catalog) *fakeAppStore {
	return &fakeAppStore{
		catalog:  products,
		receipts: map[string]*appstore.IAPResponse{},
		rejected: map[string]struct{}{},
	}
}

func (f *fakeAppStore) setAvailable(available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = !available
}

func (f *fakeAppStore) rejectPayments(productID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[productID] = struct{}{}
}

func (f *fakeAppStore) dial(context.Context) (Validator, error) {
	return f, nil
}

func (f *fakeAppStore) addReceipt(bundleID string, tx appstore.InApp) string {
	receipt := "receipt-" + uuid.NewString()
	f.receipts[receipt] = &appstore.IAPResponse{
		Receipt: appstore.Receipt{
			BundleID: bundleID,
			InApp:    []appstore.InApp{tx},
		},
	}
	return receipt
}

func (f *fakeAppStore) revoke(receipt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[receipt].Receipt.InApp[0].CancellationDateMS = strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func (f *fakeAppStore) Launch(_ context.Context, req *iap.FlowRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rejected[req.ProductID]; ok {
		return "", errors.New("payment declined")
	}
	if f.replay {
		f.replay = false
		return f.lastReceipt, nil
	}

	now := time.Now()
	tx := appstore.InApp{
		ProductID:     req.ProductID,
		TransactionID: uuid.NewString(),
	}
	tx.PurchaseDateMS = strconv.FormatInt(now.UnixMilli(), 10)
	if product, ok := f.catalog.Get(req.ProductID); ok && product.ItemType == iap.ItemTypeSubscription {
		tx.ExpiresDateMS = strconv.FormatInt(now.Add(30*24*time.Hour).UnixMilli(), 10)
	}

	f.lastReceipt = f.addReceipt(testBundleID, tx)
	return f.lastReceipt, nil
}

// replayLastReceipt makes the next Launch return the previous receipt.
func (f *fakeAppStore) replayLastReceipt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replay = true
}

func (f *fakeAppStore) Verify(_ context.Context, reqBody appstore.IAPRequest, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable {
		return errUnreachable
	}

	out := result.(*appstore.IAPResponse)
	resp, ok := f.receipts[reqBody.ReceiptData]
	if !ok {
		*out = appstore.IAPResponse{Status: statusMalformed}
		return nil
	}
	*out = *resp
	return nil
}
