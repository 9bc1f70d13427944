package scheduler

import (
	"fmt"
	"strings"

	"github.com/iota-uz/outbound/pkg/serrors"
)

var ErrUnknownKind = serrors.NewError("SCHEDULER_UNKNOWN_KIND", "unknown scheduled job kind", "")

// Kind names a scheduled job. The set is closed: the processor switches on it.
type Kind string

const (
	// KindQueueDepthReport publishes queue counts for every integration.
	KindQueueDepthReport Kind = "queue-depth-report"
	// KindDeadLetterSweep purges dead letters older than the configured retention.
	KindDeadLetterSweep Kind = "dead-letter-sweep"
)

func Kinds() []Kind {
	return []Kind{KindQueueDepthReport, KindDeadLetterSweep}
}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(s)); k {
	case KindQueueDepthReport, KindDeadLetterSweep:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}
