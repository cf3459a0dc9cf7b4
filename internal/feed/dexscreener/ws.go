// Package dexscreener streams per-pool price updates for one token
// over the screener's websocket. Each inbound update batch becomes a
// slice of PoolObservation records for the spread evaluator.
package dexscreener

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/types"
)

type WS struct {
	URL    string
	Dialer *websocket.Dialer
	log    *zap.Logger
	conn   *websocket.Conn
	mu     sync.Mutex
}

func NewWS(url string, log *zap.Logger) *WS {
	return &WS{
		URL: strings.TrimRight(url, "/"),
		Dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
		log: log,
	}
}

func (w *WS) connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}
	c, _, err := w.Dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return err
	}
	w.conn = c

	_ = w.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	return nil
}

func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

type pairUpdate struct {
	PairAddress string   `json:"pairAddress"`
	DexID       string   `json:"dexId"`
	ChainID     string   `json:"chainId"`
	Labels      []string `json:"labels"`
	PriceUsd    string   `json:"priceUsd"`
	PriceNative string   `json:"priceNative"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type inbound struct {
	Method string       `json:"method"`
	Params []pairUpdate `json:"params"`
}

// Subscribe watches one token's pools on a chain. Every "pair" message
// yields one observation batch on the returned channel.
func (w *WS) Subscribe(ctx context.Context, chain, token string) (<-chan []types.PoolObservation, error) {
	if err := w.connect(ctx); err != nil {
		return nil, err
	}

	sub := struct {
		Method string `json:"method"`
		ID     int    `json:"id"`
		Params struct {
			Channel string `json:"channel"`
			Token   string `json:"token"`
			Chain   string `json:"chain"`
		} `json:"params"`
	}{Method: "subscribe", ID: 1}
	sub.Params.Channel = "tokens"
	sub.Params.Token = token
	sub.Params.Chain = chain

	if err := w.conn.WriteJSON(sub); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	w.log.Info("subscribed to pool updates",
		zap.String("chain", chain), zap.String("token", token))

	out := make(chan []types.PoolObservation, 64)

	go func() {
		defer close(out)
		defer w.Close()

		pingStop := make(chan struct{})
		go func() {
			t := time.NewTicker(30 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-pingStop:
					return
				case <-t.C:
					w.mu.Lock()
					_ = w.conn.WriteMessage(websocket.PingMessage, nil)
					w.mu.Unlock()
				}
			}
		}()
		defer close(pingStop)

		for {
			if ctx.Err() != nil {
				return
			}
			var msg inbound
			if err := w.conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					w.log.Warn("feed read failed", zap.Error(err))
				}
				return
			}
			if msg.Method != "pair" || len(msg.Params) == 0 {
				continue
			}
			batch := make([]types.PoolObservation, 0, len(msg.Params))
			for _, p := range msg.Params {
				obs, ok := toObservation(p)
				if !ok {
					continue
				}
				batch = append(batch, obs)
			}
			if len(batch) == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// toObservation maps a screener update onto the engine's observation.
// The venue identifier is the dex id plus any version label, which is
// what the router directory's fuzzy matching expects ("uniswap_v3").
func toObservation(p pairUpdate) (types.PoolObservation, bool) {
	price, err := strconv.ParseFloat(p.PriceNative, 64)
	if err != nil || price <= 0 {
		if price, err = strconv.ParseFloat(p.PriceUsd, 64); err != nil || price <= 0 {
			return types.PoolObservation{}, false
		}
	}
	venue := strings.ToLower(p.DexID)
	if venue == "" || p.PairAddress == "" {
		return types.PoolObservation{}, false
	}
	for _, l := range p.Labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			venue = venue + "_" + l
			break
		}
	}
	priceUSD, _ := strconv.ParseFloat(p.PriceUsd, 64)
	return types.PoolObservation{
		VenueID:      venue,
		PairAddress:  p.PairAddress,
		PriceNative:  price,
		PriceUSD:     priceUSD,
		LiquidityUSD: p.Liquidity.USD,
		FeeBps:       feeBps(p.Labels),
	}, true
}

// feeBps estimates the pool fee from the screener labels. A percent
// label ("0.25%") is authoritative; a stable pool charges the thin
// Solidly stable fee; everything else gets the classic 0.30%.
func feeBps(labels []string) float64 {
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if strings.HasSuffix(l, "%") {
			if pct, err := strconv.ParseFloat(strings.TrimSuffix(l, "%"), 64); err == nil && pct >= 0 {
				return pct * 100
			}
		}
		if l == "stable" {
			return 5
		}
	}
	return 30
}
