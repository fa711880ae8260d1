package admission

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Consumer is one identity and the number of entries in its window.
type Consumer struct {
	Identity string `json:"identity"`
	Count    int64  `json:"count"`
}

// TopConsumers samples up to sample identities with window collections and
// returns the five largest by count. Ties keep the store's enumeration
// order, which carries no meaning. Counts include entries not yet purged.
//
// On store failure the result is empty and the error is returned after
// being logged.
func (l *Limiter) TopConsumers(ctx context.Context, sample int) ([]Consumer, error) {
	if sample <= 0 {
		sample = DefaultSample
	}

	keys, err := l.store.Keys(ctx, KeyPrefix+"*", sample)
	if err != nil {
		return l.consumersFailed(err)
	}

	consumers := make([]Consumer, 0, len(keys))
	for _, key := range keys {
		n, err := l.store.ZCard(ctx, key)
		if err != nil {
			return l.consumersFailed(fmt.Errorf("count %s: %w", key, err))
		}
		consumers = append(consumers, Consumer{
			Identity: strings.TrimPrefix(key, KeyPrefix),
			Count:    n,
		})
	}

	sort.SliceStable(consumers, func(i, j int) bool {
		return consumers[i].Count > consumers[j].Count
	})
	if len(consumers) > topN {
		consumers = consumers[:topN]
	}
	return consumers, nil
}

func (l *Limiter) consumersFailed(err error) ([]Consumer, error) {
	l.logger.Warn().Err(err).Str("op", "admission.top_consumers").Msg("store unavailable, no consumers listed")
	return []Consumer{}, err
}
