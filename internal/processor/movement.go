package processor

import (
	"ledgerindexer/internal/solana"

	"github.com/shopspring/decimal"
)

// tokenMovement describes how one mint changed hands inside a transaction.
// From is empty for a mint and To is empty for a burn.
type tokenMovement struct {
	Mint string
	From string
	To   string
}

type ownerKey struct {
	mint  string
	owner string
}

// tokenMovements derives holder changes from pre/post token balances,
// in the order the mints first appear.
func tokenMovements(tx *solana.SolanaTransaction) []tokenMovement {
	if tx.Meta == nil {
		return nil
	}

	var mints []string
	seen := make(map[string]bool)
	owners := make(map[string][]string)
	pre := make(map[ownerKey]decimal.Decimal)
	post := make(map[ownerKey]decimal.Decimal)

	collect := func(balances []solana.TokenBalance, into map[ownerKey]decimal.Decimal) {
		for _, b := range balances {
			if !seen[b.Mint] {
				seen[b.Mint] = true
				mints = append(mints, b.Mint)
			}
			owners[b.Mint] = appendUnique(owners[b.Mint], b.Owner)
			amount, err := decimal.NewFromString(b.UiTokenAmount.Amount)
			if err != nil {
				continue
			}
			k := ownerKey{mint: b.Mint, owner: b.Owner}
			into[k] = into[k].Add(amount)
		}
	}
	collect(tx.Meta.PreTokenBalances, pre)
	collect(tx.Meta.PostTokenBalances, post)

	var movements []tokenMovement
	for _, mint := range mints {
		var move tokenMovement
		move.Mint = mint
		for _, owner := range owners[mint] {
			k := ownerKey{mint: mint, owner: owner}
			delta := post[k].Sub(pre[k])
			switch {
			case delta.IsPositive() && move.To == "":
				move.To = owner
			case delta.IsNegative() && move.From == "":
				move.From = owner
			}
		}
		if move.From == "" && move.To == "" {
			continue
		}
		movements = append(movements, move)
	}
	return movements
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
