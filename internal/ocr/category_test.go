package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	m := NewMatcher([]Category{
		{ID: 1, Name: "Makanan"},
		{ID: 2, Name: "Transportasi"},
		{ID: 3, Name: "Kesehatan"},
		{ID: 9, Name: "Kopi"},
	})

	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{name: "Makanan ringan", want: 1, ok: true},
		{name: "MAKANAM KUCING", want: 1, ok: true},
		{name: "Bensin Pertamax", want: 2, ok: true},
		{name: "Obat batuk", want: 3, ok: true},
		{name: "Kopi susu", want: 9, ok: true},
		{name: "Nasi goreng", want: 1, ok: true},
		{name: "Lampu LED", ok: false},
		{name: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Match(tt.name)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got.ID)
			}
		})
	}

	_, ok := NewMatcher(nil).Match("Nasi")
	require.False(t, ok)
}
