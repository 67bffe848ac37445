package netguard

import (
	"fmt"

	"merchant-guard/core/guard"
)

// Whitelist holds the parsed allow-list of every guard. Immutable after construction.
type Whitelist struct {
	lists map[string]PrefixList
}

func NewWhitelist(registry *guard.Registry) (*Whitelist, error) {
	w := &Whitelist{lists: map[string]PrefixList{}}
	for _, d := range registry.All() {
		list, err := ParsePrefixList(d.IPWhitelist)
		if err != nil {
			return nil, fmt.Errorf("guard %s: %w", d.Name, err)
		}
		w.lists[d.Name] = list
	}
	return w, nil
}

// IsWhitelisted is false for unknown guards, empty lists and unparsable IPs.
func (w *Whitelist) IsWhitelisted(guardName, ip string) bool {
	if w == nil {
		return false
	}
	list, ok := w.lists[guardName]
	if !ok || len(list) == 0 {
		return false
	}
	return list.Contains(ParseIP(ip))
}
