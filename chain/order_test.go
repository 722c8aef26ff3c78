package chain

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testExchange = common.HexToAddress("0x7BF100a9946D4F6726C6cC3FcE78E9fFE469BC53")
	testAsset    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testMaker    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

const rawSellOrder = `{
	"exchange": "0x7BF100a9946D4F6726C6cC3FcE78E9fFE469BC53",
	"maker": "0x2222222222222222222222222222222222222222",
	"taker": "0x0000000000000000000000000000000000000000",
	"saleSide": 1,
	"saleKind": 0,
	"target": "0x1111111111111111111111111111111111111111",
	"paymentToken": "0x0000000000000000000000000000000000000000",
	"calldata_": "0x23b872dd00000000000000000000000022222222222222222222222222222222222222220000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000002a",
	"replacementPattern": "0x000000000000000000000000000000000000000000000000000000000000000000000000ffffffffffffffffffffffffffffffffffffffff0000000000000000000000000000000000000000000000000000000000000000",
	"staticTarget": "0x0000000000000000000000000000000000000000",
	"staticExtra": "0x",
	"basePrice": "0xde0b6b3a7640000",
	"endPrice": "1000000000000000000",
	"listingTime": 1672531200,
	"expirationTime": "0",
	"salt": "81736423746238746283746238476"
}`

func sampleOrder() *Order {
	return &Order{
		Exchange:           testExchange,
		Maker:              testMaker,
		SaleSide:           SaleSideSell,
		SaleKind:           SaleKindFixedPrice,
		Target:             testAsset,
		CallData:           common.FromHex("0x23b872dd"),
		ReplacementPattern: common.FromHex("0x00000000"),
		StaticExtra:        []byte{},
		BasePrice:          big.NewInt(1000),
		EndPrice:           big.NewInt(1000),
		ListingTime:        big.NewInt(1672531200),
		ExpirationTime:     big.NewInt(0),
		Salt:               big.NewInt(42),
	}
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder([]byte(rawSellOrder))
	require.NoError(t, err)

	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.Equal(t, testExchange, o.Exchange)
	assert.Equal(t, testMaker, o.Maker)
	assert.Equal(t, common.Address{}, o.Taker)
	assert.Equal(t, SaleSideSell, o.SaleSide)
	assert.Equal(t, SaleKindFixedPrice, o.SaleKind)
	assert.Equal(t, 0, oneEther.Cmp(o.BasePrice), "hex basePrice")
	assert.Equal(t, 0, oneEther.Cmp(o.EndPrice), "decimal endPrice")
	assert.Equal(t, int64(1672531200), o.ListingTime.Int64(), "numeric listingTime")
	assert.Equal(t, 0, o.ExpirationTime.Sign())
	assert.Len(t, o.CallData, 100)
	assert.Empty(t, o.StaticExtra)
}

func TestParseOrderRejectsMalformed(t *testing.T) {
	cases := map[string]func(m map[string]interface{}){
		"missing salt":     func(m map[string]interface{}) { delete(m, "salt") },
		"null maker":       func(m map[string]interface{}) { m["maker"] = nil },
		"bad address":      func(m map[string]interface{}) { m["target"] = "0x1234" },
		"negative price":   func(m map[string]interface{}) { m["basePrice"] = "-5" },
		"non numeric":      func(m map[string]interface{}) { m["endPrice"] = "ten" },
		"bad bytes":        func(m map[string]interface{}) { m["calldata_"] = "0xzz" },
		"side overflow":    func(m map[string]interface{}) { m["saleSide"] = 256 },
		"bytes not string": func(m map[string]interface{}) { m["staticExtra"] = 7 },
		"too wide":         func(m map[string]interface{}) { m["salt"] = "0x1" + strings.Repeat("0", 64) },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(rawSellOrder), &m))
			mutate(m)
			raw, err := json.Marshal(m)
			require.NoError(t, err)

			_, err = ParseOrder(raw)
			assert.ErrorIs(t, err, ErrMalformedOrder)
		})
	}

	_, err := ParseOrder([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrMalformedOrder)
}

func TestOrderJSONRoundTrip(t *testing.T) {
	o, err := ParseOrder([]byte(rawSellOrder))
	require.NoError(t, err)

	out, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"calldata_":"0x23b872dd`)
	assert.Contains(t, string(out), `"basePrice":"1000000000000000000"`)

	var back Order
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, o.StructHash(), back.StructHash())
}

func TestOrderValidate(t *testing.T) {
	now := time.Unix(1700000000, 0)

	o := sampleOrder()
	assert.NoError(t, o.Validate(now))

	o.ExpirationTime = big.NewInt(now.Unix() + 60)
	assert.NoError(t, o.Validate(now))

	o.ExpirationTime = big.NewInt(now.Unix())
	assert.ErrorIs(t, o.Validate(now), ErrOrderExpired)

	o = sampleOrder()
	o.EndPrice = big.NewInt(999)
	assert.ErrorIs(t, o.Validate(now), ErrInvalidOrder)

	o.SaleKind = SaleKindDutchAuction
	assert.NoError(t, o.Validate(now))

	o.SaleKind = SaleKindDutchAuction + 1
	assert.ErrorIs(t, o.Validate(now), ErrInvalidOrder)

	o = sampleOrder()
	o.SaleSide = SaleSideSell + 1
	assert.ErrorIs(t, o.Validate(now), ErrInvalidOrder)

	o = sampleOrder()
	o.Salt = nil
	assert.ErrorIs(t, o.Validate(now), ErrInvalidOrder)

	o = sampleOrder()
	o.BasePrice = big.NewInt(-1)
	o.EndPrice = big.NewInt(-1)
	assert.ErrorIs(t, o.Validate(now), ErrInvalidOrder)
}

func TestOrderClone(t *testing.T) {
	o := sampleOrder()
	c := o.Clone()
	c.BasePrice.SetInt64(1)
	c.CallData[0] = 0xff

	assert.Equal(t, int64(1000), o.BasePrice.Int64())
	assert.Equal(t, byte(0x23), o.CallData[0])
}
