package composer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got.String())
}

func TestResolveAmount(t *testing.T) {
	requireDec(t, "10000", ResolveAmount(Percent, dec("10"), dec("100000")))
	requireDec(t, "2500", ResolveAmount(Nominal, dec("2500"), dec("100000")))
	requireDec(t, "7", ResolveAmount("", dec("7"), dec("100")))
}

func TestFieldCoercion(t *testing.T) {
	tests := []struct {
		raw  Field
		want string
	}{
		{"20000", "20000"},
		{" 1.5 ", "1.5"},
		{"", "0"},
		{"abc", "0"},
		{"12a", "0"},
		{"-300", "-300"},
		{"1e50000000", "0"},
		{"2.5E3", "0"},
		{"0x1F", "0"},
		{"12.", "0"},
		{Field(strings.Repeat("9", maxNumberLen+1)), "0"},
	}
	for _, tt := range tests {
		t.Run(string(tt.raw[:min(len(tt.raw), 16)]), func(t *testing.T) {
			requireDec(t, tt.want, tt.raw.Decimal())
		})
	}
}

func TestExponentInputStaysZero(t *testing.T) {
	d := NewDraft()
	d, err := d.ToggleItemDiscount(0)
	require.NoError(t, err)
	d, err = d.UpdateItem(0, FieldBasePrice, "1e50000000")
	require.NoError(t, err)
	require.Equal(t, Field("0"), d.Items[0].Price)

	var compose Draft
	require.NoError(t, json.Unmarshal([]byte(`{"taxes":[{"name":"PPN","type":"NOMINAL","value":"1","amount":1e50000000}],"discounts":[{"name":"Promo","type":"NOMINAL","value":"500","amount":"500"}]}`), &compose))
	require.True(t, compose.Taxes[0].Amount.IsZero())
	require.Equal(t, "PPN", compose.Taxes[0].Name)
	require.Equal(t, Nominal, compose.Taxes[0].Kind)
	requireDec(t, "500", compose.Discounts[0].Amount)
}

func TestFieldUnmarshalKeepsRaw(t *testing.T) {
	var payload struct {
		A Field `json:"a"`
		B Field `json:"b"`
		C Field `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12x","b":2500,"c":null}`), &payload))
	require.Equal(t, Field("12x"), payload.A)
	require.Equal(t, Field("2500"), payload.B)
	require.True(t, payload.C.IsEmpty())
	requireDec(t, "0", payload.A.Decimal())
}

func TestEffectivePrice(t *testing.T) {
	tests := []struct {
		name string
		item LineItem
		want string
	}{
		{name: "no discount", item: LineItem{Price: "15000"}, want: "15000"},
		{name: "percent", item: LineItem{Discount: &ItemDiscount{BasePrice: "50000", Kind: Percent, Value: "20"}}, want: "40000"},
		{name: "nominal", item: LineItem{Discount: &ItemDiscount{BasePrice: "50000", Kind: Nominal, Value: "7500"}}, want: "42500"},
		{name: "percent over 100 clamps", item: LineItem{Discount: &ItemDiscount{BasePrice: "50000", Kind: Percent, Value: "150"}}, want: "0"},
		{name: "nominal over base clamps", item: LineItem{Discount: &ItemDiscount{BasePrice: "1000", Kind: Nominal, Value: "5000"}}, want: "0"},
		{name: "discount without base is inert", item: LineItem{Price: "900", Discount: &ItemDiscount{Kind: Percent, Value: "50"}}, want: "900"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireDec(t, tt.want, EffectivePrice(tt.item))
		})
	}
}

func TestComputeScenario(t *testing.T) {
	d := NewDraft().SetTitle("Ngopi")
	d, err := d.UpdateItem(0, FieldName, "Kopi")
	require.NoError(t, err)
	d, err = d.UpdateItem(0, FieldPrice, "20000")
	require.NoError(t, err)
	d, err = d.UpdateItem(0, FieldQty, "2")
	require.NoError(t, err)
	requireDec(t, "40000", Total(d))

	d = d.AddFee("Delivery", "5000")
	requireDec(t, "45000", Total(d))

	d = d.AddTax("PPN", Percent, "10")
	require.Len(t, d.Taxes, 1)
	requireDec(t, "4500", d.Taxes[0].Amount)
	requireDec(t, "49500", Total(d))

	d = d.AddDiscount("Promo", Nominal, "10000")
	require.Len(t, d.Discounts, 1)
	requireDec(t, "10000", d.Discounts[0].Amount)

	b := Compute(d)
	requireDec(t, "40000", b.ItemsTotal)
	requireDec(t, "5000", b.FeesTotal)
	requireDec(t, "4500", b.TaxesTotal)
	requireDec(t, "49500", b.SubTotal)
	requireDec(t, "10000", b.DiscountsTotal)
	requireDec(t, "39500", b.Total)
}

func TestTaxIsSnapshotAtAddTime(t *testing.T) {
	d := Draft{Title: "Belanja", Items: []LineItem{{Name: "Beras", Price: "100000", Qty: "1"}}}
	d = d.AddTax("PPN", Percent, "10")
	requireDec(t, "10000", d.Taxes[0].Amount)

	d, err := d.UpdateItem(0, FieldPrice, "200000")
	require.NoError(t, err)
	requireDec(t, "10000", d.Taxes[0].Amount)
	requireDec(t, "210000", Total(d))
}

func TestAdjustmentOrderMatters(t *testing.T) {
	base := Draft{Title: "x", Items: []LineItem{{Name: "A", Price: "100000", Qty: "1"}}}

	taxFirst := base.AddTax("PPN", Percent, "10")
	taxFirst, err := taxFirst.UpdateItem(0, FieldPrice, "50000")
	require.NoError(t, err)
	taxFirst = taxFirst.AddDiscount("Promo", Percent, "10")

	discountFirst, err := base.UpdateItem(0, FieldPrice, "50000")
	require.NoError(t, err)
	discountFirst = discountFirst.AddDiscount("Promo", Percent, "10")
	discountFirst = discountFirst.AddTax("PPN", Percent, "10")

	// tax 10000 snapshot, discount 10% of 60000 = 6000
	requireDec(t, "54000", Total(taxFirst))
	// discount 10% of 50000 = 5000, tax 10% of 50000 = 5000
	requireDec(t, "50000", Total(discountFirst))
}

func TestTotalNeverNegative(t *testing.T) {
	d := Draft{Title: "x", Items: []LineItem{{Name: "A", Price: "1000", Qty: "1"}}}
	d = d.AddDiscount("Voucher", Nominal, "999999")
	requireDec(t, "0", Total(d))

	d = d.AddDiscount("Potongan", Percent, "500")
	requireDec(t, "0", Total(d))
}

func TestComputeIgnoresInvalidNumbers(t *testing.T) {
	d := Draft{
		Items: []LineItem{{Name: "A", Price: "abc", Qty: "2"}, {Name: "B", Price: "3000", Qty: ""}},
		Fees:  []Fee{{Name: "Ongkir", Amount: "lima ribu"}},
	}
	requireDec(t, "0", Total(d))
}

func TestBreakdownMarshalsNumbers(t *testing.T) {
	raw, err := json.Marshal(Breakdown{Total: dec("39500")})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"total":39500`)
}
