package room

// ReconcileDuplicates collapses player records sharing a name into one.
//
// Precedence: Connected beats Disconnected; among equals the record holding a
// connection id wins; remaining ties keep the earliest record. The survivor
// takes the earliest position and inherits the creator flag if any collapsed
// record held it.
//
// Postcondition: player names are unique; returns the number of records removed.
func (r *Room) ReconcileDuplicates() int {
	index := make(map[string]int, len(r.Players))
	out := make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		i, dup := index[p.Name]
		if !dup {
			index[p.Name] = len(out)
			out = append(out, p)
			continue
		}
		kept := out[i]
		creator := kept.IsCreator || p.IsCreator
		if outranks(p, kept) {
			p.JoinedAt = kept.JoinedAt
			kept = p
		}
		kept.IsCreator = creator
		out[i] = kept
	}
	removed := len(r.Players) - len(out)
	r.Players = out
	return removed
}

func outranks(a, b Player) bool {
	if a.Connected != b.Connected {
		return a.Connected
	}
	return a.ConnectionID != "" && b.ConnectionID == ""
}
