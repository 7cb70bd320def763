package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/code-payments/iap-billing/iap"
)

const defaultPrefix = "billing:"

// record is the JSON form of a purchase kept under purchaseKey.
type record struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	ItemType         uint8     `json:"item_type"`
	Platform         uint8     `json:"platform"`
	Token            string    `json:"token"`
	State            uint8     `json:"state"`
	ConsumptionState uint8     `json:"consumption_state"`
	Acknowledged     bool      `json:"acknowledged"`
	AutoRenewing     bool      `json:"auto_renewing"`
	Payload          string    `json:"payload"`
	Receipt          string    `json:"receipt"`
	TransactionDate  time.Time `json:"transaction_date"`
}

type store struct {
	client goredis.UniversalClient
	prefix string
}

func NewInRedis(client goredis.UniversalClient) iap.Store {
	return NewInRedisWithPrefix(client, defaultPrefix)
}

func NewInRedisWithPrefix(client goredis.UniversalClient, prefix string) iap.Store {
	return &store{
		client: client,
		prefix: prefix,
	}
}

func (s *store) purchaseKey(token string) string {
	return s.prefix + "purchase:" + token
}

func (s *store) indexKey(itemType iap.ItemType) string {
	return s.prefix + "purchases:" + itemType.String()
}

func (s *store) reset() {
	ctx := context.Background()

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			panic(err)
		}
	}
	if err := iter.Err(); err != nil {
		panic(err)
	}
}

// CreatePurchase writes the record and its index entry in one transaction.
// The index entry is added even if the record already exists; getAll skips
// entries whose record has another item type.
func (s *store) CreatePurchase(ctx context.Context, purchase *iap.Purchase) error {
	data, err := json.Marshal(toRecord(purchase))
	if err != nil {
		return err
	}

	var created *goredis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		created = pipe.SetNX(ctx, s.purchaseKey(purchase.Token), data, 0)
		pipe.SAdd(ctx, s.indexKey(purchase.ItemType), purchase.Token)
		return nil
	})
	if err != nil {
		return err
	}
	if !created.Val() {
		return iap.ErrExists
	}
	return nil
}

// UpdatePurchase replaces the record while watching its key, and always
// re-adds the index entry.
func (s *store) UpdatePurchase(ctx context.Context, purchase *iap.Purchase) error {
	data, err := json.Marshal(toRecord(purchase))
	if err != nil {
		return err
	}

	key := s.purchaseKey(purchase.Token)
	return s.client.Watch(ctx, func(tx *goredis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return iap.ErrNotFound
		} else if err != nil {
			return err
		}

		var r record
		if err := json.Unmarshal(existing, &r); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if iap.ItemType(r.ItemType) != purchase.ItemType {
				pipe.SRem(ctx, s.indexKey(iap.ItemType(r.ItemType)), purchase.Token)
			}
			pipe.SAdd(ctx, s.indexKey(purchase.ItemType), purchase.Token)
			return nil
		})
		return err
	}, key)
}

func (s *store) GetPurchase(ctx context.Context, token string) (*iap.Purchase, error) {
	data, err := s.client.Get(ctx, s.purchaseKey(token)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return fromRecord(&r), nil
}

func (s *store) GetPurchases(ctx context.Context, itemType iap.ItemType) ([]*iap.Purchase, error) {
	all, err := s.getAll(ctx, itemType)
	if err != nil {
		return nil, err
	}

	purchases := make([]*iap.Purchase, 0, len(all))
	for _, purchase := range all {
		if !purchase.IsConsumed() {
			purchases = append(purchases, purchase)
		}
	}

	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].TransactionDate.Before(purchases[j].TransactionDate)
	})
	return purchases, nil
}

func (s *store) GetPurchaseByPayload(ctx context.Context, productID string, itemType iap.ItemType, payload string) (*iap.Purchase, error) {
	purchases, err := s.GetPurchases(ctx, itemType)
	if err != nil {
		return nil, err
	}

	// Purchases are oldest first.
	for i := len(purchases) - 1; i >= 0; i-- {
		if purchases[i].ProductID == productID && purchases[i].Payload == payload {
			return purchases[i], nil
		}
	}
	return nil, iap.ErrNotFound
}

func (s *store) getAll(ctx context.Context, itemType iap.ItemType) ([]*iap.Purchase, error) {
	tokens, err := s.client.SMembers(ctx, s.indexKey(itemType)).Result()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = s.purchaseKey(token)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	purchases := make([]*iap.Purchase, 0, len(values))
	for _, value := range values {
		str, ok := value.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}

		var r record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, err
		}
		if iap.ItemType(r.ItemType) != itemType {
			continue
		}
		purchases = append(purchases, fromRecord(&r))
	}
	return purchases, nil
}

func toRecord(p *iap.Purchase) *record {
	return &record{
		ID:               p.ID,
		ProductID:        p.ProductID,
		ItemType:         uint8(p.ItemType),
		Platform:         uint8(p.Platform),
		Token:            p.Token,
		State:            uint8(p.State),
		ConsumptionState: uint8(p.ConsumptionState),
		Acknowledged:     p.Acknowledged,
		AutoRenewing:     p.AutoRenewing,
		Payload:          p.Payload,
		Receipt:          p.Receipt,
		TransactionDate:  p.TransactionDate,
	}
}

func fromRecord(r *record) *iap.Purchase {
	return &iap.Purchase{
		ID:               r.ID,
		ProductID:        r.ProductID,
		ItemType:         iap.ItemType(r.ItemType),
		Platform:         iap.Platform(r.Platform),
		Token:            r.Token,
		State:            iap.PurchaseState(r.State),
		ConsumptionState: iap.ConsumptionState(r.ConsumptionState),
		Acknowledged:     r.Acknowledged,
		AutoRenewing:     r.AutoRenewing,
		Payload:          r.Payload,
		Receipt:          r.Receipt,
		TransactionDate:  r.TransactionDate,
	}
}
