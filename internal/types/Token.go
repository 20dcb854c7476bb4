/*

This is a custom type for the ERC20 token held by a strategy's capital vault.

*/

package types

import "github.com/ethereum/go-ethereum/common"

type Token struct {
	Symbol   string         `json:"symbol"`   // e.g., "USDC"
	Address  common.Address `json:"address"`  // ERC20 contract address
	Decimals int32          `json:"decimals"` // e.g., 6 for USDC, 18 for DAI
}
