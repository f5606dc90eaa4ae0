package washsale

import "strings"

// AlternativeProvider suggests securities that are not substantially
// identical to symbol, best candidates first.
type AlternativeProvider interface {
	Alternatives(symbol string) []string
}

// StaticSectors maps each symbol to its same-sector peers.
type StaticSectors map[string][]string

// DefaultSectors is the built-in peer table.
var DefaultSectors = NewStaticSectors(map[string][]string{
	"technology":    {"AAPL", "MSFT", "GOOGL", "META", "NVDA", "AMD", "ORCL", "CRM", "ADBE", "INTC"},
	"financials":    {"JPM", "BAC", "WFC", "C", "GS", "MS", "SCHW"},
	"healthcare":    {"JNJ", "PFE", "MRK", "ABBV", "UNH", "LLY", "TMO"},
	"energy":        {"XOM", "CVX", "COP", "SLB", "EOG"},
	"consumer":      {"AMZN", "WMT", "COST", "HD", "TGT", "LOW"},
	"communication": {"NFLX", "DIS", "CMCSA", "T", "VZ"},
	"sp500":         {"SPY", "VOO", "IVV", "SPLG"},
	"total_market":  {"VTI", "ITOT", "SCHB"},
	"nasdaq100":     {"QQQ", "QQQM", "ONEQ"},
	"bonds":         {"BND", "AGG", "SCHZ"},
})

// NewStaticSectors builds a peer table from sector lists. A symbol's peers
// are the other members of its sector in listed order.
func NewStaticSectors(sectors map[string][]string) StaticSectors {
	s := make(StaticSectors)
	for _, members := range sectors {
		for _, sym := range members {
			sym = strings.ToUpper(sym)
			for _, peer := range members {
				if peer = strings.ToUpper(peer); peer != sym {
					s[sym] = append(s[sym], peer)
				}
			}
		}
	}
	return s
}

func (s StaticSectors) Alternatives(symbol string) []string {
	peers := s[strings.ToUpper(symbol)]
	out := make([]string, len(peers))
	copy(out, peers)
	return out
}
