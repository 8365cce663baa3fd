package cache

import "fmt"

// DeparturesKey caches raw scheduled departures per timing point. The
// default stop is served from memory and never hits this key.
func DeparturesKey(tpc string) string {
	return fmt.Sprintf("departures:%s", tpc)
}
