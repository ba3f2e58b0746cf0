package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Коньяк Camus XO", Clean("  Коньяк Camus \n\t XO "))
	assert.Equal(t, "", Clean(" \n "))
}

func TestNumbers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(string) *float64
		in   string
		want *float64
	}{
		{"volume comma", VolumeLiters, "Объём 0,7 л", ptr(0.7)},
		{"volume upper", VolumeLiters, "1.5 Л", ptr(1.5)},
		{"volume millilitres", VolumeLiters, "700 мл", nil},
		{"volume empty", VolumeLiters, "", nil},
		{"abv", ABVPercent, "Крепость 40 %", ptr(40)},
		{"abv decimal", ABVPercent, "12,5%", ptr(12.5)},
		{"abv missing", ABVPercent, "крепкий", nil},
		{"price nbsp", Price, "12\u00a0990 ₽", ptr(12990)},
		{"price spaces", Price, "Цена: 3 450 руб.", ptr(3450)},
		{"price none", Price, "по запросу", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.fn(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"Уни Блан", "Коломбар", "Фоль Бланш"}, SplitList("Уни Блан\r\nКоломбар; Фоль Бланш,"))
	assert.Nil(t, SplitList(""))
}

func ptr(v float64) *float64 { return &v }
