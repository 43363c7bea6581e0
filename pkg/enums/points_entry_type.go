package enums

import "fmt"

// PointsEntryType is the direction of a loyalty ledger entry.
type PointsEntryType string

const (
	PointsEarn   PointsEntryType = "EARN"
	PointsRedeem PointsEntryType = "REDEEM"
)

var validPointsEntryTypes = []PointsEntryType{PointsEarn, PointsRedeem}

func (t PointsEntryType) String() string {
	return string(t)
}

func (t PointsEntryType) IsValid() bool {
	for _, candidate := range validPointsEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Sign is +1 for EARN and -1 for REDEEM.
func (t PointsEntryType) Sign() int64 {
	if t == PointsRedeem {
		return -1
	}
	return 1
}

func ParsePointsEntryType(value string) (PointsEntryType, error) {
	for _, candidate := range validPointsEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid points entry type %q", value)
}
