package mirror

import (
	"fmt"
	"time"

	"ledgerindexer/internal/solana"

	"github.com/shopspring/decimal"
)

// Build flattens a parsed ledger transaction into its mirror document.
func Build(tx *solana.SolanaTransaction, instructionType string) (TransactionRecord, error) {
	if tx == nil || tx.Meta == nil {
		return TransactionRecord{}, fmt.Errorf("transaction has no meta")
	}

	accounts, err := buildAccounts(tx)
	if err != nil {
		return TransactionRecord{}, err
	}

	record := TransactionRecord{
		Signature:            tx.Signature(),
		Slot:                 tx.Slot,
		BlockTime:            tx.BlockTimeUTC(),
		InstructionType:      instructionType,
		Success:              tx.Succeeded(),
		Fee:                  tx.Meta.Fee,
		ComputeUnitsConsumed: tx.Meta.ComputeUnitsConsumed,
		Accounts:             accounts,
		Instructions:         buildInstructions(tx),
		LogMessages:          tx.Meta.LogMessages,
		Version:              uint64(tx.Version),
		IndexedAt:            time.Now().UTC(),
	}
	if tx.Meta.Err != nil {
		record.Err = fmt.Sprintf("%v", tx.Meta.Err)
	}
	return record, nil
}

func buildAccounts(tx *solana.SolanaTransaction) ([]Account, error) {
	// Raggruppa i bilanci token per indice account
	preByAccount := make(map[int64][]solana.TokenBalance)
	for _, balance := range tx.Meta.PreTokenBalances {
		preByAccount[balance.AccountIndex] = append(preByAccount[balance.AccountIndex], balance)
	}
	postByAccount := make(map[int64][]solana.TokenBalance)
	for _, balance := range tx.Meta.PostTokenBalances {
		postByAccount[balance.AccountIndex] = append(postByAccount[balance.AccountIndex], balance)
	}

	accounts := make([]Account, len(tx.Transaction.Message.AccountKeys))
	for i, key := range tx.Transaction.Message.AccountKeys {
		balances, err := mergeTokenBalances(preByAccount[int64(i)], postByAccount[int64(i)])
		if err != nil {
			return nil, err
		}

		account := Account{
			Pubkey:        key.Pubkey,
			Signer:        key.Signer,
			Writable:      key.Writable,
			TokenBalances: balances,
		}
		// Alcuni nodi troncano i bilanci SOL, non fidarsi della lunghezza
		if i < len(tx.Meta.PreBalances) && i < len(tx.Meta.PostBalances) {
			account.PreSolBalance = tx.Meta.PreBalances[i]
			account.PostSolBalance = tx.Meta.PostBalances[i]
			account.SolChange = int64(account.PostSolBalance) - int64(account.PreSolBalance)
		}
		accounts[i] = account
	}
	return accounts, nil
}

func mergeTokenBalances(pre, post []solana.TokenBalance) ([]TokenBalance, error) {
	byMint := make(map[string]*TokenBalance)
	order := make([]string, 0, len(pre)+len(post))

	for _, balance := range pre {
		amount, err := parseAmount(balance.UiTokenAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pre amount: %w", err)
		}
		byMint[balance.Mint] = &TokenBalance{
			Mint:           balance.Mint,
			Owner:          balance.Owner,
			TokenProgramID: balance.ProgramId,
			Decimals:       balance.UiTokenAmount.Decimals,
			PreAmount:      amount,
			ChangeAmount:   amount.Neg(),
		}
		order = append(order, balance.Mint)
	}

	for _, balance := range post {
		amount, err := parseAmount(balance.UiTokenAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse post amount: %w", err)
		}
		if existing, ok := byMint[balance.Mint]; ok {
			existing.PostAmount = amount
			existing.ChangeAmount = amount.Sub(existing.PreAmount)
			if balance.Owner != "" {
				existing.Owner = balance.Owner
			}
			continue
		}
		byMint[balance.Mint] = &TokenBalance{
			Mint:           balance.Mint,
			Owner:          balance.Owner,
			TokenProgramID: balance.ProgramId,
			Decimals:       balance.UiTokenAmount.Decimals,
			PostAmount:     amount,
			ChangeAmount:   amount,
		}
		order = append(order, balance.Mint)
	}

	result := make([]TokenBalance, 0, len(order))
	for _, mint := range order {
		result = append(result, *byMint[mint])
	}
	return result, nil
}

func parseAmount(amount solana.UiTokenAmount) (decimal.Decimal, error) {
	if amount.UiAmountString == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(amount.UiAmountString)
}

func buildInstructions(tx *solana.SolanaTransaction) []InstructionDetail {
	innerByIndex := make(map[uint64][]solana.Instruction)
	for _, inner := range tx.Meta.InnerInstructions {
		innerByIndex[inner.Index] = inner.Instructions
	}

	instructions := make([]InstructionDetail, len(tx.Transaction.Message.Instructions))
	for i, inst := range tx.Transaction.Message.Instructions {
		detail := instructionDetail(inst)
		if inners, ok := innerByIndex[uint64(i)]; ok {
			detail.InnerInstructions = make([]InstructionDetail, len(inners))
			for j, inner := range inners {
				detail.InnerInstructions[j] = instructionDetail(inner)
			}
		}
		instructions[i] = detail
	}
	return instructions
}

func instructionDetail(inst solana.Instruction) InstructionDetail {
	detail := InstructionDetail{
		Accounts:  inst.Accounts,
		Data:      inst.Data,
		ProgramID: inst.ProgramId,
		Program:   inst.Program,
	}
	if inst.StackHeight != nil {
		detail.StackHeight = *inst.StackHeight
	}

	// Le istruzioni non parsate dal nodo restano solo con data base58
	parsed, err := inst.GetParsedData()
	if err != nil || parsed == nil {
		return detail
	}
	detail.ParsedType = parsed.Type
	detail.ParsedAmount = parsed.Info.Amount
	detail.ParsedAuthority = parsed.Info.Authority
	detail.ParsedDestination = parsed.Info.Destination
	detail.ParsedSource = parsed.Info.Source
	detail.ParsedMint = parsed.Info.Mint
	if parsed.Info.TokenAmount != nil && detail.ParsedAmount == "" {
		detail.ParsedAmount = parsed.Info.TokenAmount.Amount
	}
	return detail
}
