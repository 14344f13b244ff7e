package core

import (
	"context"

	"TrancheLedger/internal/event"
	"TrancheLedger/internal/observability"
)

// Dispatch fans engine envelopes out to persistence and publishing.
// The persist channel uses a blocking send so no event is lost; the publish
// channel drops on full because consumers can rebuild from the event log.
// Either output may be nil. Dispatch returns when in closes or ctx is done.
func Dispatch(ctx context.Context, in <-chan event.Envelope, persist, publish chan<- event.Envelope, metrics *observability.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}

			if persist != nil {
				select {
				case persist <- env:
				default:
					if metrics != nil {
						metrics.PersistBackpressure.Inc()
					}
					select {
					case persist <- env:
					case <-ctx.Done():
						return
					}
				}
			}

			if publish != nil {
				select {
				case publish <- env:
				default:
					if metrics != nil {
						metrics.PublishDrops.Inc()
					}
				}
			}

			if metrics != nil && persist != nil {
				metrics.SetChannelMetrics("persist", len(persist), cap(persist))
			}
		}
	}
}
