package ledger

import "github.com/shopspring/decimal"

type party struct {
	id     MemberID
	amount decimal.Decimal
}

// SuggestSettlements turns net balances into a list of transfers that brings
// every member to zero.
//
// Creditors and debtors keep the order of balances. At each step the current
// debtor pays the current creditor the smaller of the two outstanding
// amounts; both sides are rounded to cents after the subtraction, and each
// index advances independently once its side reaches zero. The result holds
// at most one transfer less than the number of non-zero members and is never
// nil. The input is not modified
func SuggestSettlements(balances []NetBalance) []Transfer {
	var creditors, debtors []party
	for _, b := range balances {
		amount := Round2(b.Net)
		switch amount.Sign() {
		case 1:
			creditors = append(creditors, party{id: b.Member, amount: amount})
		case -1:
			debtors = append(debtors, party{id: b.Member, amount: amount.Neg()})
		}
	}

	transfers := make([]Transfer, 0)
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		pay := Round2(decimal.Min(debtors[i].amount, creditors[j].amount))
		if pay.IsPositive() {
			transfers = append(transfers, Transfer{
				From:   debtors[i].id,
				To:     creditors[j].id,
				Amount: pay,
			})
		}

		debtors[i].amount = Round2(debtors[i].amount.Sub(pay))
		creditors[j].amount = Round2(creditors[j].amount.Sub(pay))

		if debtors[i].amount.Sign() <= 0 {
			i++
		}
		if creditors[j].amount.Sign() <= 0 {
			j++
		}
	}

	return transfers
}
