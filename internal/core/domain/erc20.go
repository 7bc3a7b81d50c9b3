package domain

// Transfer is an ERC20 Transfer log. Value is a decimal string.
type Transfer struct {
	Token string `json:"token"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

func (Transfer) Kind() EventKind { return KindTransfer }

func (d Transfer) validate() error {
	return require(d.Kind()).
		str("token", d.Token).
		str("from", d.From).
		str("to", d.To).
		str("value", d.Value).
		err()
}

// Approval is an ERC20 Approval log. Value is a decimal string.
type Approval struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Value   string `json:"value"`
}

func (Approval) Kind() EventKind { return KindApproval }

func (d Approval) validate() error {
	return require(d.Kind()).
		str("token", d.Token).
		str("owner", d.Owner).
		str("spender", d.Spender).
		str("value", d.Value).
		err()
}
