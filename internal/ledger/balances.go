package ledger

import "github.com/shopspring/decimal"

// ComputeBalances aggregates expenses and settlements into one net balance per member.
//
// Every current member gets an entry, in the order given, even when untouched.
// Payers are credited with the full expense amount and every split participant
// is debited with its share, the payer included. A settlement credits the
// member who paid and debits the member who received. Nets are rounded to two
// decimals once, after all records are applied.
//
// Records may still reference members who have since left the group. Those
// are appended after the current members, in first-seen order, only while
// their net is non-zero
func ComputeBalances(members []Member, expenses []Expense, settlements []Settlement) Balances {
	net := make(map[MemberID]decimal.Decimal, len(members))
	names := make(map[MemberID]string, len(members))
	current := make(map[MemberID]bool, len(members))
	order := make([]MemberID, 0, len(members))

	for _, m := range members {
		if current[m.ID] {
			continue
		}
		current[m.ID] = true
		names[m.ID] = m.FullName
		net[m.ID] = decimal.Zero
		order = append(order, m.ID)
	}

	apply := func(id MemberID, delta decimal.Decimal) {
		if _, ok := net[id]; !ok {
			net[id] = decimal.Zero
			order = append(order, id)
		}
		net[id] = net[id].Add(delta)
	}

	for _, e := range expenses {
		apply(e.PaidBy, e.Amount)
		for _, d := range e.SplitDetails {
			apply(d.Member, d.Amount.Neg())
		}
	}

	for _, s := range settlements {
		apply(s.From, s.Amount)
		apply(s.To, s.Amount.Neg())
	}

	out := Balances{
		Members:  make([]NetBalance, 0, len(order)),
		byMember: make(map[MemberID]decimal.Decimal, len(order)),
	}
	for _, id := range order {
		rounded := Round2(net[id])
		former := !current[id]
		if former && rounded.IsZero() {
			continue
		}
		out.Members = append(out.Members, NetBalance{
			Member:   id,
			FullName: names[id],
			Net:      rounded,
			Former:   former,
		})
		out.byMember[id] = rounded
	}

	return out
}
