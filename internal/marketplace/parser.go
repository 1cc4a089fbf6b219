package marketplace

import (
	"regexp"
	"strings"

	"ledgerindexer/internal/models"
	"ledgerindexer/internal/solana"

	"github.com/shopspring/decimal"
)

const lamportsPerSOL = 1_000_000_000

// Event is the marketplace-independent shape extracted from a transaction.
type Event struct {
	Type    models.ActivityType
	TokenID string
	Price   decimal.Decimal
	Seller  string
	Buyer   string
}

type Marker struct {
	Pattern string
	Type    models.ActivityType
}

// PricePattern captures a price in its first group. Lamports prices are
// converted to SOL.
type PricePattern struct {
	Expr     *regexp.Regexp
	Lamports bool
}

// Marketplace describes one marketplace program and its log vocabulary.
// Markers are tried in order, so more specific patterns come first.
type Marketplace struct {
	Name          string
	ProgramID     string
	Markers       []Marker
	PricePatterns []PricePattern
}

var assetExpr = regexp.MustCompile(`asset ([1-9A-HJ-NP-Za-km-z]{32,44})`)

var Known = map[string]Marketplace{
	"magic_eden": {
		Name:      "magic_eden",
		ProgramID: "M2mx93ekt1fmXSVkTrUL9xVFHkmME8HTUi5Cyc5aF7K",
		Markers: []Marker{
			{Pattern: "Instruction: ExecuteSaleV2", Type: models.ActivitySale},
			{Pattern: "Instruction: ExecuteSale", Type: models.ActivitySale},
			{Pattern: "Instruction: CancelSell", Type: models.ActivityDelist},
			{Pattern: "Instruction: Sell", Type: models.ActivityList},
			{Pattern: "Instruction: BuyV2", Type: models.ActivityBid},
			{Pattern: "Instruction: Buy", Type: models.ActivityBid},
		},
		PricePatterns: []PricePattern{
			{Expr: regexp.MustCompile(`"price":\s*(\d+)`), Lamports: true},
		},
	},
	"tensor": {
		Name:      "tensor",
		ProgramID: "TSWAPaqyCSx2KABk68Shruf4rp7CxcNi8hAsbdwmHbN",
		Markers: []Marker{
			{Pattern: "Instruction: BuySingleListing", Type: models.ActivitySale},
			{Pattern: "Instruction: BuyNft", Type: models.ActivitySale},
			{Pattern: "Instruction: SellNft", Type: models.ActivitySale},
			{Pattern: "Instruction: Delist", Type: models.ActivityDelist},
			{Pattern: "Instruction: List", Type: models.ActivityList},
		},
		PricePatterns: []PricePattern{
			{Expr: regexp.MustCompile(`(?i)price[":\s=]+(\d+)`), Lamports: true},
		},
	},
	"tickettoken": {
		Name:      "tickettoken",
		ProgramID: "BTNZP23sGbQsMwX1SBiyfTpDDqD8Sev7j78N45QBoYtv",
		Markers: []Marker{
			{Pattern: "Listing sold for", Type: models.ActivitySale},
			{Pattern: "Listing cancelled for asset", Type: models.ActivityDelist},
			{Pattern: "Listing created for asset", Type: models.ActivityList},
		},
		PricePatterns: []PricePattern{
			{Expr: regexp.MustCompile(`at price (\d+)`), Lamports: true},
			{Expr: regexp.MustCompile(`sold for (\d+) SOL`), Lamports: true},
		},
	},
}

// Parse extracts the marketplace event, if any, from tx.
func (m Marketplace) Parse(tx *solana.SolanaTransaction) (Event, bool) {
	logs := tx.Logs()

	activity, ok := m.match(logs)
	if !ok {
		return Event{}, false
	}

	event := Event{Type: activity}
	moves := nftMovements(tx)

	if match := findSubmatch(assetExpr, logs); match != "" {
		event.TokenID = match
	} else if len(moves) > 0 {
		event.TokenID = moves[0].Mint
	}
	if event.TokenID == "" {
		return Event{}, false
	}

	if price, ok := m.price(logs); ok {
		event.Price = price
	} else if activity == models.ActivitySale || activity == models.ActivityBid {
		event.Price = paidBySigner(tx)
	}

	payer := feePayer(tx)
	switch activity {
	case models.ActivitySale:
		if len(moves) > 0 && moves[0].To != "" {
			event.Seller = moves[0].From
			event.Buyer = moves[0].To
		} else {
			event.Buyer = payer
			event.Seller = largestSOLReceiver(tx, payer)
		}
	case models.ActivityBid:
		event.Buyer = payer
	default:
		event.Seller = payer
	}
	return event, true
}

func (m Marketplace) match(logs []string) (models.ActivityType, bool) {
	for _, marker := range m.Markers {
		pattern := strings.ToLower(marker.Pattern)
		for _, line := range logs {
			if strings.Contains(strings.ToLower(line), pattern) {
				return marker.Type, true
			}
		}
	}
	return "", false
}

func (m Marketplace) price(logs []string) (decimal.Decimal, bool) {
	for _, p := range m.PricePatterns {
		raw := findSubmatch(p.Expr, logs)
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		if p.Lamports {
			value = value.Div(decimal.NewFromInt(lamportsPerSOL))
		}
		return value, true
	}
	return decimal.Zero, false
}

func findSubmatch(expr *regexp.Regexp, logs []string) string {
	for _, line := range logs {
		if match := expr.FindStringSubmatch(line); len(match) > 1 {
			return match[1]
		}
	}
	return ""
}

func feePayer(tx *solana.SolanaTransaction) string {
	for _, account := range tx.Transaction.Message.AccountKeys {
		if account.Signer {
			return account.Pubkey
		}
	}
	return ""
}

// paidBySigner is the SOL the fee payer spent, net of the network fee.
func paidBySigner(tx *solana.SolanaTransaction) decimal.Decimal {
	if tx.Meta == nil || len(tx.Meta.PreBalances) == 0 || len(tx.Meta.PostBalances) == 0 {
		return decimal.Zero
	}
	spent := int64(tx.Meta.PreBalances[0]) - int64(tx.Meta.PostBalances[0]) - int64(tx.Meta.Fee)
	if spent <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(spent).Div(decimal.NewFromInt(lamportsPerSOL))
}

func largestSOLReceiver(tx *solana.SolanaTransaction, exclude string) string {
	if tx.Meta == nil {
		return ""
	}
	var (
		best  string
		bestN int64
	)
	for i, account := range tx.Transaction.Message.AccountKeys {
		if account.Pubkey == exclude || i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			continue
		}
		gain := int64(tx.Meta.PostBalances[i]) - int64(tx.Meta.PreBalances[i])
		if gain > bestN {
			best, bestN = account.Pubkey, gain
		}
	}
	return best
}

type movement struct {
	Mint string
	From string
	To   string
}

// nftMovements finds single-unit token transfers between owners.
func nftMovements(tx *solana.SolanaTransaction) []movement {
	if tx.Meta == nil {
		return nil
	}
	type key struct{ mint, owner string }
	held := make(map[key]int)
	var order []key

	track := func(balances []solana.TokenBalance, sign int) {
		for _, b := range balances {
			if b.UiTokenAmount.Decimals != 0 {
				continue
			}
			k := key{b.Mint, b.Owner}
			if _, ok := held[k]; !ok {
				order = append(order, k)
				held[k] = 0
			}
			if b.UiTokenAmount.Amount == "1" {
				held[k] += sign
			}
		}
	}
	track(tx.Meta.PreTokenBalances, -1)
	track(tx.Meta.PostTokenBalances, 1)

	byMint := make(map[string]*movement)
	var mints []string
	for _, k := range order {
		delta := held[k]
		if delta == 0 {
			continue
		}
		move, ok := byMint[k.mint]
		if !ok {
			move = &movement{Mint: k.mint}
			byMint[k.mint] = move
			mints = append(mints, k.mint)
		}
		if delta > 0 {
			move.To = k.owner
		} else {
			move.From = k.owner
		}
	}

	moves := make([]movement, 0, len(mints))
	for _, mint := range mints {
		moves = append(moves, *byMint[mint])
	}
	return moves
}
