package digest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// Quote is the latest GLOBAL_QUOTE snapshot of a symbol. Empty fields mean
// the source returned no data; Note carries the reason when given.
type Quote struct {
	Symbol           string `json:"symbol"`
	Price            string `json:"price"`
	Change           string `json:"change"`
	ChangePercent    string `json:"changePercent"`
	LatestTradingDay string `json:"latestTradingDay"`
	Note             string `json:"note,omitempty"`
}

// Gold is the latest gold spot price.
type Gold struct {
	Price string `json:"price"`
	Date  string `json:"date"`
	Note  string `json:"note,omitempty"`
}

// AlphaVantage is a market data client.
type AlphaVantage struct {
	apiKey string
	opts   options
}

func NewAlphaVantage(apiKey string, opts ...Option) *AlphaVantage {
	return &AlphaVantage{apiKey: strings.TrimSpace(apiKey), opts: newOptions(alphaVantageBaseURL, opts)}
}

func (a *AlphaVantage) query(ctx context.Context, params url.Values, out any) error {
	if a.apiKey == "" {
		return fmt.Errorf("%w: ALPHAVANTAGE_API_KEY", ErrMissingKey)
	}
	params.Set("apikey", a.apiKey)
	return getJSON(ctx, a.opts, "alpha vantage", a.opts.baseURL+"/query?"+params.Encode(), out)
}

type globalQuoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	Information string            `json:"Information"`
}

// Quote fetches the latest quote for symbol.
func (a *AlphaVantage) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var resp globalQuoteResponse
	if err := a.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}, &resp); err != nil {
		return Quote{}, err
	}
	q := resp.GlobalQuote
	return Quote{
		Symbol:           symbol,
		Price:            q["05. price"],
		Change:           q["09. change"],
		ChangePercent:    q["10. change percent"],
		LatestTradingDay: q["07. latest trading day"],
		Note:             firstNonEmpty(resp.Note, resp.Information),
	}, nil
}

type spotResponse struct {
	Data []struct {
		Value string `json:"value"`
		Date  string `json:"date"`
	} `json:"data"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// GoldSpot fetches the latest gold spot price.
func (a *AlphaVantage) GoldSpot(ctx context.Context) (Gold, error) {
	var resp spotResponse
	if err := a.query(ctx, url.Values{"function": {"GOLD_SILVER_SPOT"}}, &resp); err != nil {
		return Gold{}, err
	}
	g := Gold{Note: firstNonEmpty(resp.Note, resp.Information)}
	if len(resp.Data) > 0 {
		g.Price = resp.Data[0].Value
		g.Date = resp.Data[0].Date
	}
	return g, nil
}

// Format renders the quote for chat.
func (q Quote) Format() string {
	if q.Price == "" {
		if q.Note != "" {
			return fmt.Sprintf("%s：暂无数据（%s）", q.Symbol, q.Note)
		}
		return fmt.Sprintf("%s：暂无数据", q.Symbol)
	}
	return fmt.Sprintf("📈 %s %s（%s, %s）%s", q.Symbol, q.Price, q.Change, q.ChangePercent, q.LatestTradingDay)
}

// Format renders the gold price for chat.
func (g Gold) Format() string {
	if g.Price == "" {
		return "🥇 黄金：暂无数据"
	}
	return fmt.Sprintf("🥇 黄金现货 %s USD/oz（%s）", g.Price, g.Date)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
