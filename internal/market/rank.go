package market

import (
	"sort"

	"github.com/kumanofoo/tako/internal/model"
)

// RankOwners sorts owners in standings order: higher balance first, then
// smaller id. The same order decides season winners, so it must be
// deterministic.
func RankOwners(owners []model.Owner) {
	sort.Slice(owners, func(i, j int) bool {
		if !owners[i].Balance.Equal(owners[j].Balance) {
			return owners[i].Balance.GreaterThan(owners[j].Balance)
		}
		return owners[i].ID < owners[j].ID
	})
}
