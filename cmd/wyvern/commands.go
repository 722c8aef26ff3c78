package main

import (
	"fmt"
	"math/big"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	wyvernmarket "github.com/wisysta/wyvern-market-sdk-go"
	"github.com/wisysta/wyvern-market-sdk-go/chain"
)

const tokenArgs = "<contract> <tokenId>"

var expiresFlag = &cli.DurationFlag{
	Name:  "expires",
	Usage: "order lifetime, 0 never expires",
	Value: 7 * 24 * time.Hour,
}

var orderFlag = &cli.StringFlag{
	Name:  "order",
	Usage: "id of the order to fill, the best price when unset",
}

func tokenFromArgs(cctx *cli.Context, extra int) (common.Address, string, error) {
	if cctx.NArg() != 2+extra {
		return common.Address{}, "", fmt.Errorf("expected %d arguments, got %d", 2+extra, cctx.NArg())
	}
	contract := cctx.Args().Get(0)
	if !common.IsHexAddress(contract) {
		return common.Address{}, "", fmt.Errorf("invalid contract address %q", contract)
	}
	return common.HexToAddress(contract), cctx.Args().Get(1), nil
}

func expiration(cctx *cli.Context) int64 {
	d := cctx.Duration(expiresFlag.Name)
	if d <= 0 {
		return 0
	}
	return time.Now().Add(d).Unix()
}

var statusCmd = &cli.Command{
	Name:      "status",
	Usage:     "show proxy, approval and WETH allowance state for a contract",
	ArgsUsage: "<contract>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 || !common.IsHexAddress(cctx.Args().First()) {
			return fmt.Errorf("expected a contract address")
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		defer client.Close()

		session, err := login(cctx.Context, client)
		if err != nil {
			return err
		}
		state, err := client.Preconditions(cctx.Context, session, common.HexToAddress(cctx.Args().First()))
		if err != nil {
			return err
		}

		fmt.Println("account:   ", session.Account.Hex())
		fmt.Println("proxy:     ", state.HasProxy)
		fmt.Println("approved:  ", state.IsApproved)
		fmt.Println("allowance: ", state.HasAllowance)
		return nil
	},
}

var listingsCmd = &cli.Command{
	Name:      "listings",
	Usage:     "list sell orders and offers for a token",
	ArgsUsage: tokenArgs,
	Action: func(cctx *cli.Context) error {
		contract, tokenID, err := tokenFromArgs(cctx, 0)
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		defer client.Close()

		sells, err := client.SellOrders(cctx.Context, contract, tokenID)
		if err != nil {
			return err
		}
		offers, err := client.Offers(cctx.Context, contract, tokenID)
		if err != nil {
			return err
		}

		fmt.Println("sell orders:")
		printListings(sells)
		fmt.Println("offers:")
		printListings(offers)
		return nil
	},
}

func printListings(orders []wyvernmarket.ListedOrder) {
	if len(orders) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, l := range orders {
		price := l.Price
		if o, err := l.Order(); err == nil {
			price = wyvernmarket.FormatBaseUnits(o.BasePrice, wyvernmarket.DefaultTokenDecimals)
		}
		fmt.Printf("  %s  maker %s  price %s\n", l.ID, l.Maker, price)
	}
}

var sellCmd = &cli.Command{
	Name:      "sell",
	Usage:     "list a token for sale",
	ArgsUsage: tokenArgs + " <price>",
	Flags:     []cli.Flag{expiresFlag},
	Action: func(cctx *cli.Context) error {
		return runMaker(cctx, wyvernmarket.IntentSell)
	},
}

var offerCmd = &cli.Command{
	Name:      "offer",
	Usage:     "make a WETH offer on a token",
	ArgsUsage: tokenArgs + " <price>",
	Flags:     []cli.Flag{expiresFlag},
	Action: func(cctx *cli.Context) error {
		return runMaker(cctx, wyvernmarket.IntentOffer)
	},
}

func runMaker(cctx *cli.Context, kind wyvernmarket.IntentKind) error {
	contract, tokenID, err := tokenFromArgs(cctx, 1)
	if err != nil {
		return err
	}
	price := cctx.Args().Get(2)

	client, err := newClient(cctx)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := login(cctx.Context, client)
	if err != nil {
		return err
	}

	var signed *wyvernmarket.SignedOrder
	if kind == wyvernmarket.IntentSell {
		signed, err = client.Sell(cctx.Context, session, contract, tokenID, price, expiration(cctx))
	} else {
		signed, err = client.Offer(cctx.Context, session, contract, tokenID, price, expiration(cctx))
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s order %s submitted\n", kind, signed.ID)
	return nil
}

var buyCmd = &cli.Command{
	Name:      "buy",
	Usage:     "buy a listed token, paying its price plus the exchange fee",
	ArgsUsage: tokenArgs,
	Flags:     []cli.Flag{orderFlag},
	Action: func(cctx *cli.Context) error {
		return runFill(cctx, wyvernmarket.IntentBuy)
	},
}

var acceptCmd = &cli.Command{
	Name:      "accept",
	Usage:     "sell a token to a standing offer",
	ArgsUsage: tokenArgs,
	Flags:     []cli.Flag{orderFlag},
	Action: func(cctx *cli.Context) error {
		return runFill(cctx, wyvernmarket.IntentAccept)
	},
}

func runFill(cctx *cli.Context, kind wyvernmarket.IntentKind) error {
	contract, tokenID, err := tokenFromArgs(cctx, 0)
	if err != nil {
		return err
	}
	client, err := newClient(cctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var orders []wyvernmarket.ListedOrder
	if kind == wyvernmarket.IntentBuy {
		orders, err = client.SellOrders(cctx.Context, contract, tokenID)
	} else {
		orders, err = client.Offers(cctx.Context, contract, tokenID)
	}
	if err != nil {
		return err
	}

	// buyers take the lowest ask, sellers the highest bid
	counter, err := pickOrder(orders, cctx.String(orderFlag.Name), kind == wyvernmarket.IntentBuy)
	if err != nil {
		return err
	}

	session, err := login(cctx.Context, client)
	if err != nil {
		return err
	}

	var result *wyvernmarket.MatchResult
	if kind == wyvernmarket.IntentBuy {
		result, err = client.Buy(cctx.Context, session, counter)
	} else {
		result, err = client.AcceptOffer(cctx.Context, session, counter)
	}
	if err != nil {
		return err
	}

	fmt.Printf("matched order %s in tx %s (value %s wei)\n", counter.ID, result.Receipt.TxHash.Hex(), result.Value())
	return nil
}

func pickOrder(orders []wyvernmarket.ListedOrder, id string, lowest bool) (wyvernmarket.ListedOrder, error) {
	if id != "" {
		for _, o := range orders {
			if o.ID == id {
				return o, nil
			}
		}
		return wyvernmarket.ListedOrder{}, fmt.Errorf("order %s not found", id)
	}

	type priced struct {
		listing wyvernmarket.ListedOrder
		price   *big.Int
	}
	var candidates []priced
	for _, o := range orders {
		order, err := o.Order()
		if err != nil {
			logger.Warnw("skipping unreadable order", "id", o.ID, "err", err)
			continue
		}
		candidates = append(candidates, priced{o, order.BasePrice})
	}
	if len(candidates) == 0 {
		return wyvernmarket.ListedOrder{}, fmt.Errorf("no orders to fill")
	}

	sort.Slice(candidates, func(i, j int) bool {
		cmp := candidates[i].price.Cmp(candidates[j].price)
		if lowest {
			return cmp < 0
		}
		return cmp > 0
	})
	return candidates[0].listing, nil
}

var verifyCmd = &cli.Command{
	Name:      "verify",
	Usage:     "check that every listed order for a token is signed by its maker",
	ArgsUsage: tokenArgs,
	Action: func(cctx *cli.Context) error {
		contract, tokenID, err := tokenFromArgs(cctx, 0)
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		defer client.Close()

		sells, err := client.SellOrders(cctx.Context, contract, tokenID)
		if err != nil {
			return err
		}
		offers, err := client.Offers(cctx.Context, contract, tokenID)
		if err != nil {
			return err
		}

		bad := 0
		for _, l := range append(sells, offers...) {
			if err := verifyListing(client.Domain(), l); err != nil {
				bad++
				fmt.Printf("  %s  INVALID: %v\n", l.ID, err)
				continue
			}
			fmt.Printf("  %s  ok\n", l.ID)
		}
		if bad > 0 {
			return fmt.Errorf("%d orders failed verification", bad)
		}
		return nil
	},
}

func verifyListing(domain *chain.Domain, l wyvernmarket.ListedOrder) error {
	side, err := l.MatchSide()
	if err != nil {
		return err
	}
	signer, err := chain.RecoverSigner(domain, side.Order, side.Signature)
	if err != nil {
		return err
	}
	if signer != side.Order.Maker {
		return fmt.Errorf("signed by %s, maker is %s", signer.Hex(), side.Order.Maker.Hex())
	}
	return nil
}

var watchCmd = &cli.Command{
	Name:      "watch",
	Usage:     "stream order events for a token",
	ArgsUsage: tokenArgs,
	Action: func(cctx *cli.Context) error {
		contract, tokenID, err := tokenFromArgs(cctx, 0)
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		feed := client.Feed(nil)
		if err := feed.Connect(ctx); err != nil {
			return err
		}
		defer feed.Close() // nolint:errcheck

		if err := feed.SubscribeToken(contract, tokenID); err != nil {
			return err
		}

		for {
			select {
			case ev := <-feed.Events():
				fmt.Printf("%s  %-16s order %s maker %s price %s %s\n",
					time.Unix(ev.Timestamp, 0).Format(time.RFC3339), ev.Channel, ev.OrderID, ev.Maker, ev.Price, ev.TxHash)
			case <-ctx.Done():
				return nil
			}
		}
	},
}
