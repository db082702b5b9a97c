package registry

var defaultAssets = []string{
	"bch", "bcn", "bnb", "btc", "dash", "eos", "etc", "eth", "gnt", "lsk",
	"ltc", "mco", "neo", "nxt", "omg", "qtum", "str", "strat", "wtc", "xdn",
	"xlm", "xmr", "xrp", "zec", "zrx",
	"cny", "eur", "gbp", "jpy", "krw", "usd", "usdt",
}

var defaultQuotes = []string{"btc", "eth", "usd", "usdt"}

func defaultVenues() map[string]Venue {
	return map[string]Venue{
		"binance": {
			Accounts: map[string]string{
				"bch": "BCC", "btc": "BTC", "eos": "EOS", "eth": "ETH", "mco": "MCO",
				"ltc": "LTC", "neo": "NEO", "omg": "OMG", "qtum": "QTUM", "usdt": "USDT",
				"strat": "STRAT", "wtc": "WTC", "zrx": "ZRX", "zec": "ZEC",
			},
			Markets: map[string]string{
				"bchbtc": "BCCBTC", "eosbtc": "EOSBTC", "ethbtc": "ETHBTC", "mcobtc": "MCOBTC",
				"ltcbtc": "LTCBTC", "neobtc": "NEOBTC", "omgbtc": "OMGBTC", "qtumbtc": "QTUMBTC",
				"stratbtc": "STRATBTC", "wtcbtc": "WTCBTC", "xmrbtc": "XMRBTC", "xrpbtc": "XRPBTC",
				"zrxbtc": "ZRXBTC", "zecbtc": "ZECBTC", "eoseth": "EOSETH",
				"btcusdt": "BTCUSDT", "ethusdt": "ETHUSDT",
			},
			// per quote asset
			Minimum: map[string]float64{"btc": 0.001, "eth": 0.01, "usdt": 1},
			Fees:    Fees{Make: 0.001, Take: 0.001},
		},
		"kraken": {
			Accounts: map[string]string{
				"bch": "BCH", "btc": "XXBT", "dash": "DASH", "eos": "EOS", "etc": "ETC",
				"eth": "XETH", "ltc": "LTC", "xlm": "XLM", "xmr": "XMR", "xrp": "XRP",
				"zec": "ZEC", "usdt": "USDT",
			},
			Markets: map[string]string{
				"bchbtc": "BCHXBT", "dashbtc": "DASHXBT", "eosbtc": "EOSXBT", "etcbtc": "XETCXXBT",
				"ethbtc": "XETHXXBT", "ltcbtc": "XLTCXXBT", "xlmbtc": "XLMXBT", "xmrbtc": "XXMRXXBT",
				"xrpbtc": "XXRPXXBT", "zecbtc": "XZECXXBT", "eoseth": "EOSETH", "etceth": "XETCXETH",
			},
			// per base asset
			Minimum: map[string]float64{
				"bch": 0.002, "btc": 0.002, "dash": 0.03, "eos": 3, "eth": 0.02, "etc": 0.3,
				"ltc": 0.1, "str": 300, "xmr": 0.1, "xrp": 30, "zec": 0.03, "usdt": 5,
			},
			Fees: Fees{Make: 0.002, Take: 0.001},
		},
		"bitstamp": {
			Accounts: map[string]string{"btc": "btc", "ltc": "ltc", "xrp": "xrp"},
			Markets:  map[string]string{"ltcbtc": "ltcbtc", "xrpbtc": "xrpbtc"},
			// per quote asset
			Minimum:   map[string]float64{"eur": 5, "usd": 5, "gbp": 5},
			Fees:      Fees{Make: 0.0015, Take: 0.0015},
			Frequency: 6,
		},
	}
}
