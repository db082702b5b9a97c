package symbols

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"kraken", "XETHXXBT", "ethbtc"},
		{"kraken", "XLTCXXBT", "ltcbtc"},
		{"kraken", "BCHXBT", "bchbtc"},
		{"kraken", "EOSETH", "eoseth"},
		{"kraken", "XBT/USD", "btcusd"},
		{"binance", "ETHBTC", "ethbtc"},
		{"binance", "BCCBTC", "bchbtc"},
		{"bitstamp", "ltcbtc", "ltcbtc"},
		{"other", "ETHUSDT", "ethusdt"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.exchange, tt.in); got != tt.want {
			t.Errorf("Normalize(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestMapper(t *testing.T) {
	m := NewMapper(map[string]string{
		"ethbtc": "XETHXXBT",
		"ltcbtc": "XLTCXXBT",
	})
	if v, ok := m.Venue("ethbtc"); !ok || v != "XETHXXBT" {
		t.Fatalf("Venue(ethbtc)=%s,%v", v, ok)
	}
	if l, ok := m.Local("XLTCXXBT"); !ok || l != "ltcbtc" {
		t.Fatalf("Local(XLTCXXBT)=%s,%v", l, ok)
	}
	if _, ok := m.Local("unknown"); ok {
		t.Fatalf("expected unknown venue symbol to miss")
	}
	if got := m.Locals(); len(got) != 2 || got[0] != "ethbtc" {
		t.Fatalf("unexpected locals %v", got)
	}
	if m.Len() != 2 {
		t.Fatalf("unexpected len %d", m.Len())
	}
}

func TestMapperDuplicateVenueSymbol(t *testing.T) {
	m := NewMapper(map[string]string{"mcobtc": "MCOBTC", "amcobtc": "MCOBTC"})
	if l, _ := m.Local("MCOBTC"); l != "amcobtc" {
		t.Fatalf("expected first local to win, got %s", l)
	}
}
