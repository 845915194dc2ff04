package ocr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dompet/internal/composer"
)

const indomaretReceipt = `INDOMARET CIPETE
Jl. Cipete Raya No. 12
Telp 021-7654321
12/05/2026 14:31 Kasir: Budi
TEH BOTOL SOSRO 2 x 5.000 10.000
INDOMIE GORENG 3 3.500 10.500
ROTI TAWAR
1 x 16.500
SABUN LIFEBUOY 8.900
Diskon Member -2.000
Biaya Kemasan 200
SUBTOTAL 45.900
TOTAL 44.100
TUNAI 50.000
KEMBALI 5.900
Terima kasih`

func TestParseIndomaretReceipt(t *testing.T) {
	res := RulesParser{}.Parse(indomaretReceipt)

	require.NotNil(t, res.Title)
	require.Equal(t, "INDOMARET CIPETE", *res.Title)
	require.NotNil(t, res.Date)
	require.Equal(t, time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC), *res.Date)

	require.Len(t, res.Items, 4)
	want := []struct {
		name, price, qty string
	}{
		{"TEH BOTOL SOSRO", "5000", "2"},
		{"INDOMIE GORENG", "3500", "3"},
		{"ROTI TAWAR", "16500", "1"},
		{"SABUN LIFEBUOY", "8900", "1"},
	}
	for i, w := range want {
		require.Equal(t, w.name, *res.Items[i].Name)
		require.Equal(t, w.price, res.Items[i].Price.String())
		require.Equal(t, w.qty, res.Items[i].Qty.String())
	}

	require.Len(t, res.Discounts, 1)
	require.Equal(t, "Diskon Member", *res.Discounts[0].Name)
	require.Equal(t, "2000", res.Discounts[0].Amount.String())
	require.Equal(t, composer.Nominal, res.Discounts[0].Kind)

	require.Len(t, res.Fees, 1)
	require.Equal(t, "Biaya Kemasan", *res.Fees[0].Name)
	require.NotNil(t, res.Total)
	require.Equal(t, "44100", res.Total.String())

	// the scan merges into a fresh draft with the same total as the receipt
	d := composer.MergeScan(composer.NewDraft(), res)
	require.True(t, composer.Total(d).Equal(*res.Total))
}

func TestParseRestaurantBill(t *testing.T) {
	text := `Warung Sate Pak Kumis
Tanggal 3 Agustus 2026
Sate Ayam x2 50.000
Es Teh Manis 2 @ Rp 5.000
Promo 10% Rp 6.000
PPN 11% 5.940
Grand Total Rp 59.940
Total Bayar 60.000`
	res := RulesParser{}.Parse(text)

	require.Equal(t, "Warung Sate Pak Kumis", *res.Title)
	require.Equal(t, time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC), *res.Date)
	require.Len(t, res.Items, 2)
	require.Equal(t, "Sate Ayam", *res.Items[0].Name)
	require.Equal(t, "25000", res.Items[0].Price.String())
	require.Equal(t, "2", res.Items[0].Qty.String())
	require.Equal(t, "Es Teh Manis", *res.Items[1].Name)

	require.Len(t, res.Discounts, 1)
	require.Equal(t, composer.Percent, res.Discounts[0].Kind)
	require.Equal(t, "10", res.Discounts[0].Value.String())
	require.Equal(t, "6000", res.Discounts[0].Amount.String())

	require.Len(t, res.Fees, 1)
	require.Equal(t, "PPN", *res.Fees[0].Name)
	require.Equal(t, "5940", res.Fees[0].Amount.String())
	require.Equal(t, "59940", res.Total.String())
}

func TestParseGarbage(t *testing.T) {
	res := RulesParser{}.Parse("   \n???\n12:30\n")
	require.Nil(t, res.Title)
	require.Nil(t, res.Date)
	require.Nil(t, res.Total)
	require.Empty(t, res.Items)
}

func TestFindDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-01-31 10:00", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), true},
		{"31.01.26", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), true},
		{"7 Okt 2026", time.Date(2026, 10, 7, 0, 0, 0, 0, time.UTC), true},
		{"31/02/2026", time.Time{}, false},
		{"Rp 12.500", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := findDate(tt.in)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}
