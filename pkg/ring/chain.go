package ring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newtron-network/newtring/pkg/util"
)

// Normalize turns the declared linked chain into an ordered Chain. It rejects
// self references, loops, repeated members, chains that never reach the tail
// and members left off the head-to-tail walk. It touches no device.
func Normalize(def *Definition) (Chain, error) {
	bad := func(device, neighbor, format string, args ...interface{}) error {
		return util.NewInvalidRingStructureError(def.Name, device, neighbor, fmt.Sprintf(format, args...))
	}

	if def.Head == "" {
		return nil, bad("", "", "head is not set")
	}
	if def.Tail == "" {
		return nil, bad("", "", "tail is not set")
	}
	if def.Head == def.Tail {
		return nil, bad(def.Head, "", "head and tail are the same device")
	}

	next := make(map[string]string, len(def.Members))
	for _, m := range def.Members {
		if m.Device == "" {
			return nil, bad("", "", "member with empty device name")
		}
		if _, dup := next[m.Device]; dup {
			return nil, bad(m.Device, "", "device is listed more than once")
		}
		if m.Next == m.Device {
			return nil, bad(m.Device, "", "next points to itself")
		}
		next[m.Device] = m.Next
	}

	if _, ok := next[def.Head]; !ok {
		return nil, bad(def.Head, "", "head is not a ring member")
	}
	if _, ok := next[def.Tail]; !ok {
		return nil, bad(def.Tail, "", "tail is not a ring member")
	}

	chain := Chain{}
	visited := make(map[string]bool, len(next))
	for cur := def.Head; ; {
		chain = append(chain, cur)
		visited[cur] = true
		if len(chain) > MaxChainLength {
			return nil, bad("", "", "chain is longer than %d devices", MaxChainLength)
		}
		if cur == def.Tail {
			break
		}

		nxt := next[cur]
		switch {
		case nxt == "":
			return nil, bad(cur, "", "chain ends before reaching tail %s", def.Tail)
		case visited[nxt]:
			return nil, bad(cur, nxt, "loop back to %s", nxt)
		}
		if _, ok := next[nxt]; !ok {
			return nil, bad(cur, nxt, "next device %s is not a ring member", nxt)
		}
		cur = nxt
	}

	// The tail either ends the chain or closes it back to the head.
	if t := next[def.Tail]; t != "" && t != def.Head {
		return nil, bad(def.Tail, t, "tail must not continue past the ring")
	}

	if len(visited) != len(next) {
		var orphans []string
		for name := range next {
			if !visited[name] {
				orphans = append(orphans, name)
			}
		}
		sort.Strings(orphans)
		return nil, bad("", "", "members not on the chain from head to tail: %s", strings.Join(orphans, ", "))
	}

	if len(chain) < MinChainLength {
		return nil, bad("", "", "chain has %d devices, need at least %d", len(chain), MinChainLength)
	}

	return chain, nil
}
