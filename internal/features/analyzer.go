// Package features derives the fixed-size feature vector that describes
// short-term market state from the retained tick and book history.
package features

import (
	"math"

	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/market"
)

// depthLevels is how many top-of-book levels count toward the depth ratios.
const depthLevels = 5

// MinTicks is the smallest tick window Analyze will summarise.
const MinTicks = 2

// Analyze summarises every retained tick and the most recent book snapshot.
// It returns false when fewer than MinTicks ticks or no snapshot is stored;
// callers skip the step in that case.
func Analyze(s *market.Storage) (domain.FeatureVector, bool) {
	var fv domain.FeatureVector

	ticks := s.Ticks()
	book, ok := s.LatestBook()
	if ticks.Len() < MinTicks || !ok {
		return fv, false
	}

	first, _ := ticks.First()
	last, _ := ticks.Last()

	mean, std := priceStats(ticks)
	fv[domain.FeatAvgPrice] = float32(mean)
	fv[domain.FeatPriceDelta] = float32(last.Price - first.Price)
	fv[domain.FeatVolumeSum] = float32(volumeSum(ticks))
	fv[domain.FeatVolatility] = float32(std)

	ask1, bid1 := book.BestAsk(), book.BestBid()
	askDepth, bidDepth := depthRatios(book.Levels)
	fv[domain.FeatImbalance] = float32(imbalance(book.Levels))
	fv[domain.FeatSpread] = float32(ask1 - bid1)
	fv[domain.FeatBestAsk] = float32(ask1)
	fv[domain.FeatBestBid] = float32(bid1)
	fv[domain.FeatAskDepthRatio] = float32(askDepth)
	fv[domain.FeatBidDepthRatio] = float32(bidDepth)

	fv[domain.FeatTickSpeed] = float32(tickSpeed(ticks))
	fv[domain.FeatLastTickSize] = float32(last.Volume)

	return fv, true
}

// priceStats returns the mean and population standard deviation of prices.
func priceStats(ticks *market.Ring[domain.TickEvent]) (mean, std float64) {
	n := ticks.Len()
	var sum float64
	for i := 0; i < n; i++ {
		sum += ticks.At(i).Price
	}
	mean = sum / float64(n)

	var variance float64
	for i := 0; i < n; i++ {
		d := ticks.At(i).Price - mean
		variance += d * d
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance)
}

func volumeSum(ticks *market.Ring[domain.TickEvent]) float64 {
	var sum float64
	for i := 0; i < ticks.Len(); i++ {
		sum += ticks.At(i).Volume
	}
	return sum
}

// imbalance is (bid - ask) / (bid + ask) over every level's size, 0 when the
// book holds no size at all.
func imbalance(levels []domain.OrderBookLevel) float64 {
	var bids, asks float64
	for _, l := range levels {
		bids += l.BidSize
		asks += l.AskSize
	}
	total := bids + asks
	if total == 0 {
		return 0
	}
	return (bids - asks) / total
}

// depthRatios returns the share of each side's size resting in the top
// depthLevels levels.
func depthRatios(levels []domain.OrderBookLevel) (ask, bid float64) {
	var askTop, bidTop, askAll, bidAll float64
	for i, l := range levels {
		askAll += l.AskSize
		bidAll += l.BidSize
		if i < depthLevels {
			askTop += l.AskSize
			bidTop += l.BidSize
		}
	}
	if askAll != 0 {
		ask = askTop / askAll
	}
	if bidAll != 0 {
		bid = bidTop / bidAll
	}
	return ask, bid
}

// tickSpeed is the mean gap in milliseconds between consecutive ticks.
func tickSpeed(ticks *market.Ring[domain.TickEvent]) float64 {
	n := ticks.Len()
	var sum float64
	for i := 1; i < n; i++ {
		sum += float64(ticks.At(i).Timestamp - ticks.At(i-1).Timestamp)
	}
	return sum / float64(n-1)
}
