package domain

import "encoding/json"

// Event types as they appear in the "type" field on the wire.
const (
	EventTypeHello     = "hello"
	EventTypeBuy       = "buy"
	EventTypeMarketCap = "marketcap"
)

// Source tags carried in BuyEvent.Source.
const (
	SourceRPCLogs = "rpc-logs"
	SourceDebug   = "debug"
)

// Event is anything the broadcast hub can fan out.
type Event interface {
	EventType() string
}

// BuyEvent is a classified buy of the tracked token.
type BuyEvent struct {
	Wallet    string
	AmountSol float64
	Level     Level
	Signature string // empty for synthetic events
	Source    string
}

// EventType implements Event.
func (BuyEvent) EventType() string { return EventTypeBuy }

// MarshalJSON renders {type, amountSol, wallet, level, txHash, src}; txHash is null without a signature.
func (e BuyEvent) MarshalJSON() ([]byte, error) {
	var txHash *string
	if e.Signature != "" {
		sig := e.Signature
		txHash = &sig
	}
	return json.Marshal(struct {
		Type      string  `json:"type"`
		AmountSol float64 `json:"amountSol"`
		Wallet    string  `json:"wallet"`
		Level     Level   `json:"level"`
		TxHash    *string `json:"txHash"`
		Src       string  `json:"src"`
	}{EventTypeBuy, e.AmountSol, e.Wallet, e.Level, txHash, e.Source})
}

// MarketCapEvent carries the latest market cap of the tracked token.
type MarketCapEvent struct {
	MarketCap float64
}

// EventType implements Event.
func (MarketCapEvent) EventType() string { return EventTypeMarketCap }

// MarshalJSON renders {type:"marketcap", mc}.
func (e MarketCapEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string  `json:"type"`
		MC   float64 `json:"mc"`
	}{EventTypeMarketCap, e.MarketCap})
}

// HelloEvent is the first message every subscriber receives.
type HelloEvent struct {
	Message string
	Build   string
}

// EventType implements Event.
func (HelloEvent) EventType() string { return EventTypeHello }

// MarshalJSON renders {type:"hello", message, build}.
func (e HelloEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Build   string `json:"build"`
	}{EventTypeHello, e.Message, e.Build})
}
