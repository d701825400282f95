package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

const tradeFrame = `{"type":"trade","code":"KRW-BTC","trade_price":50000000.0,"trade_volume":0.013,"ask_bid":"BID","timestamp":1700000000123}`

const orderbookFrame = `{"type":"orderbook","code":"KRW-BTC","timestamp":1700000000456,
"orderbook_units":[{"ask_price":50010000,"bid_price":49990000,"ask_size":0.5,"bid_size":1.25},
{"ask_price":50020000,"bid_price":49980000,"ask_size":2,"bid_size":0}]}`

func TestParseTrade(t *testing.T) {
	msg, err := parseMessage([]byte(tradeFrame))
	require.NoError(t, err)
	require.NotNil(t, msg.tick)
	assert.Nil(t, msg.book)
	assert.Equal(t, domain.TickEvent{
		Price:     50000000,
		Volume:    0.013,
		Side:      domain.SideBid,
		Timestamp: 1700000000123,
	}, *msg.tick)
}

func TestParseOrderbook(t *testing.T) {
	msg, err := parseMessage([]byte(orderbookFrame))
	require.NoError(t, err)
	require.NotNil(t, msg.book)
	assert.Equal(t, int64(1700000000456), msg.book.Timestamp)
	require.Len(t, msg.book.Levels, 2)
	assert.Equal(t, domain.OrderBookLevel{AskPrice: 50010000, AskSize: 0.5, BidPrice: 49990000, BidSize: 1.25}, msg.book.Levels[0])
}

func TestParseRejectsBadFrames(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":   `{`,
		"bad side":   `{"type":"trade","trade_price":1,"trade_volume":1,"ask_bid":"MID","timestamp":1}`,
		"zero price": `{"type":"trade","trade_price":0,"trade_volume":1,"ask_bid":"ASK","timestamp":1}`,
		"bad units":  `{"type":"orderbook","orderbook_units":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseMessage([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParseIgnoresUnknownTypes(t *testing.T) {
	msg, err := parseMessage([]byte(`{"status":"UP"}`))
	require.NoError(t, err)
	assert.Nil(t, msg.tick)
	assert.Nil(t, msg.book)
}

func TestSubscribeFrame(t *testing.T) {
	raw, err := subscribeFrame("abc", "KRW-ETH")
	require.NoError(t, err)

	var frames []map[string]any
	require.NoError(t, json.Unmarshal(raw, &frames))
	require.Len(t, frames, 3)
	assert.Equal(t, "abc", frames[0]["ticket"])
	assert.Equal(t, "trade", frames[1]["type"])
	assert.Equal(t, []any{"KRW-ETH"}, frames[1]["codes"])
	assert.Equal(t, "orderbook", frames[2]["type"])
}
