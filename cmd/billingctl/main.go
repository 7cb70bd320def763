package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/code-payments/iap-billing/config"
	"github.com/code-payments/iap-billing/iap"
)

const usage = `usage: billingctl [-env file] <command> [flags]

commands:
  products  -type <type> <product id>...
  purchases -type <type> [-verify]
  purchase  -type <type> -product <id> [-payload <payload>] [-receipt <receipt>] [-verify]
  consume   -product <id> (-token <token> | -type <type> -payload <payload>) [-verify]
`

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, log, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		if code, ok := iap.PurchaseErrorCodeOf(err); ok {
			fmt.Fprintln(os.Stderr, "purchase error:", code)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger, cfg *config.Config, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	itemTypeName := fs.String("type", "", "item type: consumable, non_consumable or subscription")
	productID := fs.String("product", "", "product id")
	payload := fs.String("payload", "", "developer payload")
	receipt := fs.String("receipt", "", "receipt returned by the device")
	token := fs.String("token", "", "purchase token")
	verify := fs.Bool("verify", false, "verify purchases with the platform verifier")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var itemType iap.ItemType
	if *itemTypeName != "" {
		var ok bool
		itemType, ok = iap.ParseItemType(*itemTypeName)
		if !ok {
			return fmt.Errorf("%w: %q", iap.ErrInvalidItemType, *itemTypeName)
		}
	}

	env, err := newEnvironment(ctx, log, cfg, iap.ReceiptFlow(*receipt))
	if err != nil {
		return err
	}
	defer env.close()

	if !env.client.Connect(ctx) {
		return errors.New("billing service unavailable")
	}
	defer env.client.Disconnect(ctx)

	var opts []iap.CallOption
	if *verify {
		opts = append(opts, iap.WithVerifier(env.verifier))
	}

	switch command {
	case "products":
		products, err := env.client.GetProductInfo(ctx, itemType, fs.Args()...)
		if err != nil {
			return err
		}
		return printYAML(toProductViews(products))
	case "purchases":
		purchases, err := env.client.GetPurchases(ctx, itemType, opts...)
		if err != nil {
			return err
		}
		return printYAML(toPurchaseViews(purchases))
	case "purchase":
		purchase, err := env.client.Purchase(ctx, *productID, itemType, *payload, opts...)
		if err != nil {
			return err
		}
		return printYAML(toPurchaseView(purchase))
	case "consume":
		var req iap.ConsumeRequest = iap.ConsumeByToken{ProductID: *productID, Token: *token}
		if *token == "" {
			req = iap.ConsumeByPayload{ProductID: *productID, ItemType: itemType, Payload: *payload}
		}

		purchase, err := env.client.ConsumePurchase(ctx, req, opts...)
		if err != nil {
			return err
		}
		return printYAML(toPurchaseView(purchase))
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

type productView struct {
	ID             string `yaml:"id"`
	Type           string `yaml:"type"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description,omitempty"`
	Price          string `yaml:"price"`
	Currency       string `yaml:"currency"`
	LocalizedPrice string `yaml:"localized_price"`
}

type purchaseView struct {
	ID              string `yaml:"id"`
	ProductID       string `yaml:"product_id"`
	Type            string `yaml:"type"`
	Token           string `yaml:"token"`
	State           string `yaml:"state"`
	Consumed        bool   `yaml:"consumed"`
	Acknowledged    bool   `yaml:"acknowledged"`
	AutoRenewing    bool   `yaml:"auto_renewing,omitempty"`
	Payload         string `yaml:"payload,omitempty"`
	TransactionDate string `yaml:"transaction_date"`
}

func toProductViews(products []*iap.Product) []productView {
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, productView{
			ID:             p.ID,
			Type:           p.ItemType.String(),
			Name:           p.Name,
			Description:    p.Description,
			Price:          p.Price.String(),
			Currency:       p.CurrencyCode,
			LocalizedPrice: p.LocalizedPrice,
		})
	}
	return views
}

func toPurchaseView(p *iap.Purchase) purchaseView {
	return purchaseView{
		ID:              p.ID,
		ProductID:       p.ProductID,
		Type:            p.ItemType.String(),
		Token:           p.Token,
		State:           p.State.String(),
		Consumed:        p.IsConsumed(),
		Acknowledged:    p.Acknowledged,
		AutoRenewing:    p.AutoRenewing,
		Payload:         p.Payload,
		TransactionDate: p.TransactionDate.UTC().Format(time.RFC3339),
	}
}

func toPurchaseViews(purchases []*iap.Purchase) []purchaseView {
	views := make([]purchaseView, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, toPurchaseView(p))
	}
	return views
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
