package hoststore

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"pkt.systems/sessiondeck/schema"
)

// Match picks the record best matching query. An exact case-insensitive name
// wins outright; otherwise names are ranked by fuzzy distance, then hosts.
// Several records at the best distance are reported as ambiguous.
func Match(servers []schema.Server, query string) (schema.Server, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return schema.Server{}, fmt.Errorf("%w: empty server query", schema.ErrInvalidRequest)
	}
	for _, server := range servers {
		if strings.EqualFold(server.Name, query) {
			return server, nil
		}
	}
	names := make([]string, len(servers))
	hosts := make([]string, len(servers))
	for i, server := range servers {
		names[i] = server.Name
		hosts[i] = server.Host
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	if len(ranks) == 0 {
		ranks = fuzzy.RankFindNormalizedFold(query, hosts)
	}
	if len(ranks) == 0 {
		return schema.Server{}, fmt.Errorf("%w: %q", schema.ErrServerNotFound, query)
	}
	best := ranks[0]
	for _, rank := range ranks[1:] {
		if rank.Distance < best.Distance || (rank.Distance == best.Distance && rank.OriginalIndex < best.OriginalIndex) {
			best = rank
		}
	}
	var tied []string
	for _, rank := range ranks {
		if rank.Distance == best.Distance {
			tied = append(tied, servers[rank.OriginalIndex].Name)
		}
	}
	if len(tied) > 1 {
		return schema.Server{}, fmt.Errorf("%w: %q matches %s", schema.ErrAmbiguousServer, query, strings.Join(tied, ", "))
	}
	return servers[best.OriginalIndex], nil
}
