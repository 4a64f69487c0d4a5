package trading_test

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-core/src/engine"
	"trade-core/src/pnl"
	"trade-core/src/snapshot"
	"trade-core/src/trading"
)

func px(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingHook struct {
	mu      sync.Mutex
	batches []snapshot.Batch
}

func (h *recordingHook) Offer(b snapshot.Batch) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, b)
	return true
}

func (h *recordingHook) all() []snapshot.Batch {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]snapshot.Batch(nil), h.batches...)
}

func order(account string, side engine.Side, price string, qty int64) trading.OrderRequest {
	return trading.OrderRequest{AccountID: account, Symbol: "AAPL", Side: side, Price: px(price), Quantity: qty}
}

func mustSubmit(t *testing.T, x *trading.Exchange, req trading.OrderRequest) *trading.Execution {
	t.Helper()
	exec, err := x.SubmitOrder(req)
	if err != nil {
		t.Fatalf("Expected order accepted, got: %v", err)
	}
	return exec
}

func TestCrossingOrderBooksBothAccounts(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	mustSubmit(t, x, order("seller", engine.Sell, "150", 100))
	exec := mustSubmit(t, x, order("buyer", engine.Buy, "151", 60))

	if len(exec.Fills) != 1 || exec.Fills[0].Quantity != 60 || !exec.Fills[0].Price.Equal(px("150")) {
		t.Fatalf("Expected one fill of 60@150, got: %+v", exec.Fills)
	}
	if exec.Order.Status != engine.StatusFilled {
		t.Errorf("Expected taker FILLED, got: %s", exec.Order.Status)
	}

	buyer := x.Position("buyer", "AAPL")
	seller := x.Position("seller", "AAPL")
	if buyer.NetQuantity != 60 || !buyer.AverageCost.Equal(px("150")) {
		t.Errorf("Expected buyer 60@150, got: %d@%s", buyer.NetQuantity, buyer.AverageCost)
	}
	if seller.NetQuantity != -60 || !seller.AverageCost.Equal(px("150")) {
		t.Errorf("Expected seller -60@150, got: %d@%s", seller.NetQuantity, seller.AverageCost)
	}

	ask, ok := x.BestAsk("AAPL")
	if !ok || !ask.Equal(px("150")) {
		t.Errorf("Expected remaining ask at 150, got: %s (%v)", ask, ok)
	}
	if _, ok := x.BestBid("AAPL"); ok {
		t.Errorf("Expected no bids")
	}
}

func TestEndToEndPnL(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	mustSubmit(t, x, order("mm", engine.Sell, "150", 100))
	mustSubmit(t, x, order("alice", engine.Buy, "150", 100))
	mustSubmit(t, x, order("mm", engine.Buy, "160", 50))
	mustSubmit(t, x, order("alice", engine.Sell, "160", 50))

	if _, err := x.OnPriceUpdate("AAPL", px("155")); err != nil {
		t.Fatalf("Expected mark accepted, got: %v", err)
	}

	alice := x.PnL("alice", "AAPL")
	if !alice.RealizedPnL.Equal(px("500")) {
		t.Errorf("Expected alice realized 500, got: %s", alice.RealizedPnL)
	}
	if !alice.UnrealizedPnL.Equal(px("250")) {
		t.Errorf("Expected alice unrealized 250, got: %s", alice.UnrealizedPnL)
	}
	if !x.TotalPnL("alice").Equal(px("750")) {
		t.Errorf("Expected alice total 750, got: %s", x.TotalPnL("alice"))
	}

	// every fill has two opposite legs, so the book nets to zero
	if !x.TotalPnL("").IsZero() {
		t.Errorf("Expected zero-sum PnL across accounts, got: %s", x.TotalPnL(""))
	}
}

func TestSelfTradeBooksBothLegs(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	mustSubmit(t, x, order("solo", engine.Sell, "10", 5))
	exec := mustSubmit(t, x, order("solo", engine.Buy, "10", 5))

	if len(exec.Fills) != 1 {
		t.Fatalf("Expected self trade to fill, got: %d fills", len(exec.Fills))
	}
	if pos := x.Position("solo", "AAPL"); !pos.IsFlat() {
		t.Errorf("Expected flat after self trade, got: %d", pos.NetQuantity)
	}
}

func TestInvalidOrdersLeaveStateUntouched(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil, "AAPL")
	mustSubmit(t, x, order("seller", engine.Sell, "150", 10))

	cases := []trading.OrderRequest{
		{AccountID: "", Symbol: "AAPL", Side: engine.Buy, Price: px("150"), Quantity: 1},
		{AccountID: "a", Symbol: "MSFT", Side: engine.Buy, Price: px("150"), Quantity: 1},
		{AccountID: "a", Symbol: "AAPL", Side: engine.Buy, Price: px("150"), Quantity: 0},
		{AccountID: "a", Symbol: "AAPL", Side: engine.Buy, Price: px("-1"), Quantity: 1},
		{AccountID: "a", Symbol: "AAPL", Side: engine.Side(0), Price: px("150"), Quantity: 1},
	}
	for i, req := range cases {
		if _, err := x.SubmitOrder(req); !errors.Is(err, engine.ErrInvalidOrder) {
			t.Errorf("case %d: Expected ErrInvalidOrder, got: %v", i, err)
		}
	}

	if x.RestingOrders() != 1 {
		t.Errorf("Expected book unchanged, got: %d resting", x.RestingOrders())
	}
	if pos := x.Position("a", "AAPL"); !pos.IsFlat() {
		t.Errorf("Expected no position change")
	}
	if _, ok := x.Lookup("MSFT"); ok {
		t.Errorf("Expected unknown symbol not to be created")
	}
}

func TestCancelAcrossSymbols(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	mustSubmit(t, x, order("a", engine.Buy, "10", 5))
	req := order("b", engine.Sell, "20", 5)
	req.Symbol = "MSFT"
	req.OrderID = "msft-1"
	mustSubmit(t, x, req)

	ok, err := x.CancelOrder("msft-1")
	if err != nil || !ok {
		t.Fatalf("Expected cancel to succeed, got: %v %v", ok, err)
	}
	if ok, _ := x.CancelOrder("msft-1"); ok {
		t.Errorf("Expected second cancel to report false")
	}
	if ok, _ := x.CancelOrder("missing"); ok {
		t.Errorf("Expected unknown id to report false")
	}
	if _, ok := x.BestAsk("MSFT"); ok {
		t.Errorf("Expected MSFT ask removed")
	}
}

func TestPriceUpdateRejectsNonPositiveMark(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)
	mustSubmit(t, x, order("s", engine.Sell, "10", 5))
	mustSubmit(t, x, order("b", engine.Buy, "10", 5))

	if _, err := x.OnPriceUpdate("AAPL", decimal.Zero); err == nil {
		t.Fatalf("Expected zero mark rejected")
	}
	if rec := x.PnL("b", "AAPL"); rec.HasMark {
		t.Errorf("Expected no mark stored, got: %s", rec.LastMarkPrice)
	}
}

func TestHookReceivesTouchedState(t *testing.T) {
	hook := &recordingHook{}
	x := trading.NewExchange(zerolog.Nop(), hook)

	mustSubmit(t, x, order("s", engine.Sell, "10", 5))
	mustSubmit(t, x, order("b", engine.Buy, "10", 5))
	if _, err := x.OnPriceUpdate("AAPL", px("11")); err != nil {
		t.Fatal(err)
	}

	batches := hook.all()
	if len(batches) != 3 {
		t.Fatalf("Expected 3 batches, got: %d", len(batches))
	}
	if !batches[0].Empty() {
		t.Errorf("Expected resting order to produce an empty batch")
	}
	fill := batches[1]
	if fill.Reason != snapshot.ReasonOrder || len(fill.Fills) != 1 || len(fill.Positions) != 2 || len(fill.PnL) != 2 {
		t.Errorf("Expected fill batch with 1 fill and 2 positions, got: %+v", fill)
	}
	mark := batches[2]
	if mark.Reason != snapshot.ReasonMark || len(mark.PnL) != 2 {
		t.Errorf("Expected mark batch with 2 records, got: %+v", mark)
	}
}

func TestInconsistencyHaltsSymbol(t *testing.T) {
	hook := &recordingHook{}
	x := trading.NewExchange(zerolog.Nop(), hook)

	mustSubmit(t, x, order("s1", engine.Sell, "10", math.MaxInt64))
	mustSubmit(t, x, order("whale", engine.Buy, "10", math.MaxInt64))

	// whale cannot hold more than MaxInt64
	mustSubmit(t, x, order("s2", engine.Sell, "10", 1))
	exec, err := x.SubmitOrder(order("whale", engine.Buy, "10", 1))
	if !errors.Is(err, trading.ErrInternalInconsistency) {
		t.Fatalf("Expected ErrInternalInconsistency, got: %v", err)
	}
	var inc *trading.InconsistencyError
	if !errors.As(err, &inc) || inc.Stage != "position" {
		t.Errorf("Expected position stage, got: %v", err)
	}
	if exec == nil || len(exec.Fills) != 1 {
		t.Fatalf("Expected fills still reported, got: %+v", exec)
	}

	if _, err := x.SubmitOrder(order("other", engine.Buy, "9", 1)); !errors.Is(err, trading.ErrSymbolHalted) {
		t.Errorf("Expected ErrSymbolHalted, got: %v", err)
	}
	if _, err := x.OnPriceUpdate("AAPL", px("10")); !errors.Is(err, trading.ErrSymbolHalted) {
		t.Errorf("Expected mark on halted symbol rejected, got: %v", err)
	}
	if _, ok := x.Halted()["AAPL"]; !ok {
		t.Errorf("Expected AAPL listed as halted")
	}

	// other symbols keep trading
	req := order("a", engine.Sell, "5", 1)
	req.Symbol = "MSFT"
	if _, err := x.SubmitOrder(req); err != nil {
		t.Errorf("Expected MSFT unaffected, got: %v", err)
	}

	batches := hook.all()
	last := batches[len(batches)-2]
	if len(last.Fills) != 1 {
		t.Errorf("Expected failed fill offered downstream, got: %+v", last)
	}
}

func TestConcurrentSymbolsStayConsistent(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)
	symbols := []string{"AAPL", "MSFT", "GOOG", "AMZN"}
	const rounds = 200

	var wg sync.WaitGroup
	for _, sym := range symbols {
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(sym string, w int) {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					side := engine.Buy
					if (i+w)%2 == 0 {
						side = engine.Sell
					}
					req := trading.OrderRequest{
						AccountID: fmt.Sprintf("acct-%d", i%5),
						Symbol:    sym,
						Side:      side,
						Price:     px("100"),
						Quantity:  int64(1 + i%3),
					}
					if _, err := x.SubmitOrder(req); err != nil {
						t.Errorf("submit %s: %v", sym, err)
						return
					}
				}
			}(sym, w)
		}
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, _ = x.BestBid(sym)
				_ = x.TotalPnL("")
				_ = x.Position("acct-1", sym)
			}
		}(sym)
	}
	wg.Wait()

	for _, sym := range symbols {
		eng, ok := x.Lookup(sym)
		if !ok {
			t.Fatalf("Expected engine for %s", sym)
		}
		var net int64
		for _, p := range eng.Positions() {
			net += p.NetQuantity
		}
		if net != 0 {
			t.Errorf("Expected net quantity 0 for %s, got: %d", sym, net)
		}
		if _, err := x.OnPriceUpdate(sym, px("101")); err != nil {
			t.Fatal(err)
		}
	}
	if !x.TotalPnL("").IsZero() {
		t.Errorf("Expected zero-sum PnL, got: %s", x.TotalPnL(""))
	}
}

func TestOrderIDUniqueAcrossSymbols(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	msft := order("a", engine.Buy, "10", 5)
	msft.Symbol = "MSFT"
	msft.OrderID = "X"
	mustSubmit(t, x, msft)

	aapl := order("b", engine.Buy, "10", 5)
	aapl.OrderID = "X"
	if _, err := x.SubmitOrder(aapl); !errors.Is(err, engine.ErrInvalidOrder) {
		t.Fatalf("Expected duplicate id rejected, got: %v", err)
	}
	if eng, ok := x.Lookup("AAPL"); ok && eng.RestingOrders() != 0 {
		t.Errorf("Expected nothing resting on AAPL, got: %d", eng.RestingOrders())
	}

	if o, ok := x.Order("X"); !ok || o.Symbol != "MSFT" {
		t.Errorf("Expected X on MSFT, got: %+v (%v)", o, ok)
	}
	ok, err := x.CancelOrder("X")
	if err != nil || !ok {
		t.Fatalf("Expected cancel to succeed, got: %v %v", ok, err)
	}
	if _, ok := x.BestBid("MSFT"); ok {
		t.Errorf("Expected MSFT bid removed")
	}

	// the id is free again once nothing rests under it
	mustSubmit(t, x, aapl)
	if o, ok := x.Order("X"); !ok || o.Symbol != "AAPL" {
		t.Errorf("Expected X on AAPL, got: %+v (%v)", o, ok)
	}
}

func TestFilledMakerReleasesOrderID(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	maker := order("s", engine.Sell, "10", 5)
	maker.OrderID = "m-1"
	mustSubmit(t, x, maker)
	mustSubmit(t, x, order("b", engine.Buy, "10", 5))

	if _, ok := x.Order("m-1"); ok {
		t.Fatalf("Expected filled maker gone")
	}
	if ok, _ := x.CancelOrder("m-1"); ok {
		t.Errorf("Expected cancel of filled order to report false")
	}

	reuse := order("c", engine.Sell, "12", 1)
	reuse.Symbol = "MSFT"
	reuse.OrderID = "m-1"
	mustSubmit(t, x, reuse)
	if o, ok := x.Order("m-1"); !ok || o.Symbol != "MSFT" {
		t.Errorf("Expected m-1 resting on MSFT, got: %+v (%v)", o, ok)
	}
}

func TestCancelOnHaltedSymbolReportsHalt(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	resting := order("r", engine.Buy, "1", 1)
	resting.OrderID = "keep"
	mustSubmit(t, x, resting)

	mustSubmit(t, x, order("s1", engine.Sell, "10", math.MaxInt64))
	mustSubmit(t, x, order("whale", engine.Buy, "10", math.MaxInt64))
	mustSubmit(t, x, order("s2", engine.Sell, "10", 1))
	if _, err := x.SubmitOrder(order("whale", engine.Buy, "10", 1)); !errors.Is(err, trading.ErrInternalInconsistency) {
		t.Fatalf("Expected ErrInternalInconsistency, got: %v", err)
	}

	ok, err := x.CancelOrder("keep")
	if ok || !errors.Is(err, trading.ErrSymbolHalted) {
		t.Errorf("Expected halted cancel, got: %v %v", ok, err)
	}
}

func TestSymbolWithSeparatorRejected(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	req := order("a", engine.Buy, "10", 1)
	req.Symbol = "A/B"
	if _, err := x.SubmitOrder(req); !errors.Is(err, engine.ErrInvalidOrder) {
		t.Fatalf("Expected ErrInvalidOrder, got: %v", err)
	}
	if _, err := x.OnPriceUpdate("A/B", px("10")); !errors.Is(err, engine.ErrInvalidOrder) {
		t.Errorf("Expected mark for A/B rejected, got: %v", err)
	}
	if len(x.Symbols()) != 0 {
		t.Errorf("Expected no engines, got: %v", x.Symbols())
	}
}

func TestMarkForInactiveSymbolIgnored(t *testing.T) {
	x := trading.NewExchange(zerolog.Nop(), nil)

	records, err := x.OnPriceUpdate("TSLA", px("200"))
	if err != nil || len(records) != 0 {
		t.Fatalf("Expected mark ignored, got: %v %v", records, err)
	}
	if _, ok := x.Lookup("TSLA"); ok {
		t.Errorf("Expected no engine created by a mark")
	}
	if _, err := x.OnPriceUpdate("TSLA", decimal.Zero); !errors.Is(err, pnl.ErrInvalidMark) {
		t.Errorf("Expected ErrInvalidMark, got: %v", err)
	}
}
