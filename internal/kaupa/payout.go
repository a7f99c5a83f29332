package kaupa

import (
	"fmt"
	"strings"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/model"
)

// CollectFunds hands over the proceeds owed to every identity in trader and,
// when fees is set, the engine's collected fees. Collecting fees requires
// the owner identity. A non-nil resource limits collection to that resource.
func (tx *Tx) CollectFunds(trader asset.Proof, payments, fees bool, resource *asset.ResourceAddress) ([]*asset.Bucket, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	e := tx.e

	if fees && !trader.Covers(e.cfg.Owner) {
		return nil, tx.fail(ErrNotOwner)
	}

	var out []*asset.Bucket
	drain := func(bag asset.Bag) {
		for _, b := range bag.Buckets() {
			if resource != nil && b.Resource() != *resource {
				continue
			}
			if b.IsEmpty() {
				continue
			}
			out = append(out, b.TakeAll())
		}
	}

	var names []string
	if payments {
		for _, id := range trader.Identities() {
			names = append(names, id.String())
			drain(e.st.payouts[id])
		}
	}
	if fees {
		drain(e.st.fees)
	}

	if len(out) > 0 {
		tx.emit(model.Event{
			Type:      model.EventFundsCollected,
			Identity:  strings.Join(names, ","),
			Collected: model.AmountsOf(out),
		})
		e.logger.Debug("funds collected", "identities", fmt.Sprint(names), "containers", len(out), "fees", fees)
	}
	return tx.output(out...), nil
}
