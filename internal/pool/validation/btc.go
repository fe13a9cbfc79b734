// Package validation checks that bulk-uploaded strings are plausible Bitcoin
// addresses before they enter the pool.
package validation

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/coinharbor/addrpool/pkg/errors"
)

// Normalize trims the surrounding whitespace a pasted upload line carries.
func Normalize(address string) string {
	return strings.TrimSpace(address)
}

// ValidateBTCAddress decodes the address against mainnet parameters. Legacy
// base58 (1.../3...) and bech32 (bc1...) forms are accepted; anything that
// fails checksum or network validation is rejected.
func ValidateBTCAddress(address string) error {
	if address == "" {
		return errors.ErrInvalidAddressFormat
	}
	decoded, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
	if err != nil {
		return errors.ErrInvalidAddressFormat.Wrap(err)
	}
	if !decoded.IsForNet(&chaincfg.MainNetParams) {
		return errors.ErrInvalidAddressFormat
	}
	return nil
}
