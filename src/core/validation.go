package main

import (
	"regexp"
	"unicode"
)

// Addresses and transaction ids are lowercase hex, as the ledger emits them.
var (
	addressRegex = regexp.MustCompile(`^[a-f0-9]{8,64}$`)
	txIDRegex    = regexp.MustCompile(`^[a-f0-9]{16,64}$`)
)

// Field length limits
const (
	MaxClusterIDLength = 128
	MaxTaskIDLength    = 128
	MaxPeerListSize    = 1024
	MaxValidatorSet    = 10000
)

// IsValidAddress checks whether an address has valid ledger format
func IsValidAddress(addr string) bool {
	return addressRegex.MatchString(addr)
}

// IsValidTxID checks whether a transaction id has valid ledger format
func IsValidTxID(id string) bool {
	return txIDRegex.MatchString(id)
}

// IsValidClusterID checks cluster id length and characters. Cluster ids are
// either addresses or clusterer-generated identifiers.
func IsValidClusterID(id string) bool {
	if id == "" || len(id) > MaxClusterIDLength {
		return false
	}
	return !ContainsControlCharacters(id)
}

// ValidateTrustEdge checks a trust edge received over the API before it is
// handed to the engine.
func ValidateTrustEdge(edge TrustEdge) bool {
	if !IsValidAddress(edge.From) || !IsValidAddress(edge.To) {
		logger.Warn("Invalid trust edge address format", "from", edge.From, "to", edge.To)
		return false
	}
	if edge.From == edge.To {
		logger.Warn("Rejecting self-trust edge", "address", edge.From)
		return false
	}
	if edge.Weight < MinTrustWeight || edge.Weight > MaxTrustWeight {
		logger.Warn("Trust edge weight out of range", "weight", edge.Weight, "from", edge.From)
		return false
	}
	if edge.BondAmount < 0 {
		logger.Warn("Negative bond amount on trust edge", "bond", edge.BondAmount, "from", edge.From)
		return false
	}
	if edge.Timestamp <= 0 {
		logger.Warn("Missing timestamp on trust edge", "from", edge.From, "to", edge.To)
		return false
	}
	if !IsValidTxID(edge.BondTx) {
		logger.Warn("Invalid bond transaction id on trust edge", "bondTx", edge.BondTx)
		return false
	}
	return true
}

// ValidateWeight checks a re-weighting value.
func ValidateWeight(weight int) bool {
	return weight >= MinTrustWeight && weight <= MaxTrustWeight
}

// ValidateValidatorSet checks a validator set submitted for audit.
func ValidateValidatorSet(set []string) bool {
	if len(set) == 0 || len(set) > MaxValidatorSet {
		logger.Warn("Validator set size out of bounds", "size", len(set))
		return false
	}
	for _, addr := range set {
		if !IsValidAddress(addr) {
			logger.Warn("Invalid address in validator set", "address", addr)
			return false
		}
	}
	return true
}

// ValidateStringField checks for max length and control characters
func ValidateStringField(s string, maxLength int) bool {
	if len(s) > maxLength {
		return false
	}
	return !ContainsControlCharacters(s)
}

// ContainsControlCharacters checks if a string contains invalid control characters
func ContainsControlCharacters(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
