// Package credentials holds API credential sets and the round-robin rotation
// used when a poll burns through one credential's daily quota.
package credentials

import "strings"

// Credential is one set of API keys with a fixed daily request quota.
type Credential struct {
	ID        string `yaml:"id"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Next returns the credential immediately following currentID in creds,
// wrapping to the first after the last. An unknown currentID falls back to the
// first credential. Empty input returns nil.
//
// This is a pure lookup invoked by monitor callbacks when they detect a
// quota/rate-limit signal; the scheduler's own next slot still uses the slot's
// pre-assigned credential index.
func Next(creds []Credential, currentID string) *Credential {
	if len(creds) == 0 {
		return nil
	}
	currentID = strings.TrimSpace(currentID)
	for i := range creds {
		if creds[i].ID == currentID {
			n := creds[(i+1)%len(creds)]
			return &n
		}
	}
	first := creds[0]
	return &first
}

// At returns the credential at idx, nil when out of range. Slot handlers use
// it to resolve the slot's pre-assigned credential index.
func At(creds []Credential, idx int) *Credential {
	if idx < 0 || idx >= len(creds) {
		return nil
	}
	c := creds[idx]
	return &c
}
