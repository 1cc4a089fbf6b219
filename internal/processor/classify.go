package processor

import (
	"strings"

	"ledgerindexer/internal/models"
)

// Rule maps a log substring to an instruction type. Matching is case-insensitive.
type Rule struct {
	Pattern string
	Type    models.InstructionType
}

// DefaultRules is checked in order; the first rule found in any log line wins.
// Mints come first because a purchase may also move payment tokens.
var DefaultRules = []Rule{
	{Pattern: "Instruction: MintTo", Type: models.InstructionMint},
	{Pattern: "Instruction: MintV1", Type: models.InstructionMint},
	{Pattern: "Would mint ticket", Type: models.InstructionMint},
	{Pattern: "registered for event", Type: models.InstructionMint},
	{Pattern: "Instruction: Burn", Type: models.InstructionBurn},
	{Pattern: "transferred from", Type: models.InstructionTransfer},
	{Pattern: "Instruction: TransferChecked", Type: models.InstructionTransfer},
	{Pattern: "Instruction: Transfer", Type: models.InstructionTransfer},
}

// Classify returns the type of the first matching rule, or UNKNOWN.
func Classify(logs []string, rules []Rule) models.InstructionType {
	lowered := make([]string, len(logs))
	for i, line := range logs {
		lowered[i] = strings.ToLower(line)
	}

	for _, rule := range rules {
		pattern := strings.ToLower(rule.Pattern)
		for _, line := range lowered {
			if strings.Contains(line, pattern) {
				return rule.Type
			}
		}
	}
	return models.InstructionUnknown
}
