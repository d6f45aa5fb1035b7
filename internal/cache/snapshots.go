package cache

// Snapshot payload shapes stored under the per-symbol keys. The ingest
// pipeline is the writer; the entry gate and the fast tracker read them.

// PriceLevel is one depth level.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is the depth stored under orderbook:<symbol>.
// Bids descend by price, asks ascend.
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	EventTime int64        `json:"event_time"`
}

// ImbalanceSnapshot is stored under imbalance:<symbol>.
type ImbalanceSnapshot struct {
	Imbalance float64 `json:"imbalance"`
}

// PriceSnapshot is the best bid/ask stored under price:<symbol>.
type PriceSnapshot struct {
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Mid       float64 `json:"mid"`
	Timestamp int64   `json:"timestamp"`
}

// TradeFlowSnapshot is the rolling-window summary stored under
// trade_flow:<symbol>.
type TradeFlowSnapshot struct {
	Symbol           string  `json:"symbol"`
	LargeBuys        int     `json:"large_buys"`
	LargeSells       int     `json:"large_sells"`
	VolumePerMinute  float64 `json:"volume_per_minute"`
	BuyVolume        float64 `json:"buy_volume"`
	SellVolume       float64 `json:"sell_volume"`
	AvgTradeSize     float64 `json:"avg_trade_size"`
	VWAP             float64 `json:"vwap"`
	DynamicThreshold float64 `json:"dynamic_threshold"`
	TradeCount       int     `json:"trade_count"`
	Timestamp        int64   `json:"timestamp"`
}

// KlineSnapshot is the latest closed candle stored under kline_15m:<symbol>.
type KlineSnapshot struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}
