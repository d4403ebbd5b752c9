package economy

// State is the persisted form of a ledger.
type State struct {
	Accounts map[Commodity]Account `json:"accounts"`
}

// Export captures the ledger for persistence.
func (l *Ledger) Export() State {
	st := State{Accounts: make(map[Commodity]Account, len(Commodities))}
	for _, c := range Commodities {
		st.Accounts[c] = l.accounts[c]
	}
	return st
}

// Load replaces the ledger contents with st. Values are taken as-is and
// then every invariant is re-validated: amounts are clamped into
// [0, capacity], rates made non-negative. Commodities missing from st
// keep their current account.
func (l *Ledger) Load(st State) {
	for c, acct := range st.Accounts {
		if !c.Valid() {
			continue
		}
		acct.LastGeneration = 0
		l.accounts[c] = acct
	}
	l.normalize()
}
