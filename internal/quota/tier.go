package quota

import (
	"encoding/json"
	"fmt"
)

// Tier is a subscription level determining the daily message ceiling.
type Tier string

const (
	TierFree   Tier = "free"
	TierPlus   Tier = "plus"
	TierExpert Tier = "expert"
)

// unlimited marks a tier with no daily ceiling.
const unlimited = -1

var ceilings = map[Tier]int{
	TierFree:   10,
	TierPlus:   100,
	TierExpert: unlimited,
}

// ParseTier validates a tier string from the wire. The empty string maps to
// the free tier, matching how user profiles are bootstrapped.
func ParseTier(s string) (Tier, error) {
	if s == "" {
		return TierFree, nil
	}
	t := Tier(s)
	if _, ok := ceilings[t]; !ok {
		return "", fmt.Errorf("unknown subscription tier %q", s)
	}
	return t, nil
}

// Ceiling returns the daily message ceiling for the tier, or a negative
// value when the tier is unbounded.
func (t Tier) Ceiling() int {
	c, ok := ceilings[t]
	if !ok {
		return ceilings[TierFree]
	}
	return c
}

// Unbounded reports whether the tier has no daily ceiling.
func (t Tier) Unbounded() bool {
	return t.Ceiling() == unlimited
}

// Remaining is how many further messages a user may send today. It marshals
// as a JSON number, or as the string "unlimited" for unbounded tiers.
type Remaining struct {
	N         int
	Unlimited bool
}

func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.Unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(r.N)
}

func (r *Remaining) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "unlimited" {
			return fmt.Errorf("invalid remaining value %q", s)
		}
		*r = Remaining{Unlimited: true}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid remaining value: %w", err)
	}
	*r = Remaining{N: n}
	return nil
}

func (r Remaining) String() string {
	if r.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", r.N)
}
