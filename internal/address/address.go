// Package address derives the storage address of every record from fixed
// seeds, so an identity always resolves to the same unique agent record and
// the config and treasury singletons have well-known locations.
package address

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Seeds for record derivation.
const (
	AgentSeed    = "agent"
	ConfigSeed   = "config"
	TreasurySeed = "treasury"
)

// Derive returns the last 20 bytes of keccak256 over the concatenated seeds.
func Derive(seeds ...[]byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(seeds...)[12:])
}

// Agent returns the record address of the agent owned by owner.
func Agent(owner common.Address) common.Address {
	return Derive([]byte(AgentSeed), owner.Bytes())
}

// Config returns the address of the global configuration record.
func Config() common.Address {
	return Derive([]byte(ConfigSeed))
}

// Treasury returns the address of the treasury account.
func Treasury() common.Address {
	return Derive([]byte(TreasurySeed))
}

// Parse validates and decodes a hex address string. It accepts mixed case
// with or without checksum.
func Parse(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
