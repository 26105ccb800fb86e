/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"github.com/cloudflare/ahocorasick"
	"github.com/vasayxtx/go-glob"
)

// keyClassifier derives the two classification bits used by the engine:
// excluded (never tracked, never evicted) and unimportant (evicted first,
// rejectable on insert). Exclusion patterns are globs, importance patterns
// are substrings matched with a single Aho-Corasick pass.
type keyClassifier struct {
	excludeMatchers []func(s string) bool
	unimportant     *ahocorasick.Matcher
}

func newKeyClassifier(excludeKeys, unimportantKeys []string) *keyClassifier {
	c := &keyClassifier{}
	for _, pattern := range excludeKeys {
		c.excludeMatchers = append(c.excludeMatchers, glob.Compile(pattern))
	}
	if len(unimportantKeys) != 0 {
		c.unimportant = ahocorasick.NewStringMatcher(unimportantKeys)
	}
	return c
}

// IsExcluded reports whether the key matches any exclusion pattern.
func (c *keyClassifier) IsExcluded(key string) bool {
	for _, match := range c.excludeMatchers {
		if match(key) {
			return true
		}
	}
	return false
}

// IsUnimportant reports whether the key contains any of the configured
// low-value substrings.
func (c *keyClassifier) IsUnimportant(key string) bool {
	if c.unimportant == nil {
		return false
	}
	return len(c.unimportant.Match([]byte(key))) != 0
}
