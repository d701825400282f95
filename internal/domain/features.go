package domain

// FeatureCount is the fixed width of a FeatureVector.
const FeatureCount = 12

// Feature indices within a FeatureVector.
const (
	FeatAvgPrice = iota
	FeatPriceDelta
	FeatVolumeSum
	FeatVolatility
	FeatImbalance
	FeatSpread
	FeatBestAsk
	FeatBestBid
	FeatAskDepthRatio
	FeatBidDepthRatio
	FeatTickSpeed
	FeatLastTickSize
)

// FeatureNames lists feature names in vector order.
var FeatureNames = [FeatureCount]string{
	"avg_price",
	"price_delta",
	"volume_sum",
	"volatility",
	"imbalance",
	"spread",
	"best_ask",
	"best_bid",
	"ask_depth_ratio",
	"bid_depth_ratio",
	"tick_speed",
	"last_tick_size",
}

// FeatureVector is a fixed-size summary of recent market state. It is a value
// type: copies never alias.
type FeatureVector [FeatureCount]float32
