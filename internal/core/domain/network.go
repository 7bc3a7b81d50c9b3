package domain

// Network identifies a chain family. Every family has its own closed set of event kinds.
type Network string

const (
	NetworkCompound  Network = "compound"
	NetworkERC20     Network = "erc20"
	NetworkCosmos    Network = "cosmos"
	NetworkSubstrate Network = "substrate"
)

// Networks lists every supported family.
var Networks = []Network{NetworkCompound, NetworkERC20, NetworkCosmos, NetworkSubstrate}

// Valid reports whether n is a supported family.
func (n Network) Valid() bool {
	for _, known := range Networks {
		if n == known {
			return true
		}
	}
	return false
}

func (n Network) String() string { return string(n) }
