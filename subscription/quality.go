package subscription

import "time"

// Quality rates the reception of a subscription.
type Quality int

const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
	QualityUnacceptable
)

// String returns the lowercase name of q.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityUnacceptable:
		return "unacceptable"
	default:
		return "unknown"
	}
}

// QualityThresholds are the upper bounds of each quality level. Loss is a
// fraction between 0 and 1.
type QualityThresholds struct {
	ExcellentLoss float64
	GoodLoss      float64
	FairLoss      float64
	PoorLoss      float64

	ExcellentJitter time.Duration
	GoodJitter      time.Duration
	FairJitter      time.Duration
	PoorJitter      time.Duration

	// StallTimeout is how long a subscription may go without packets
	// before it is rated unacceptable.
	StallTimeout time.Duration
}

// DefaultQualityThresholds are tuned for 1 ms AES67 packet times, where a
// single lost packet is audible.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		ExcellentLoss:   0.0001,
		GoodLoss:        0.001,
		FairLoss:        0.01,
		PoorLoss:        0.05,
		ExcellentJitter: 250 * time.Microsecond,
		GoodJitter:      time.Millisecond,
		FairJitter:      2 * time.Millisecond,
		PoorJitter:      5 * time.Millisecond,
		StallTimeout:    time.Second,
	}
}

// AssessQuality rates info at time now. The result is the worse of the
// loss and jitter ratings; a stalled subscription is unacceptable.
func AssessQuality(info Info, now time.Time, th QualityThresholds) Quality {
	last := info.LastPacketAt
	if last.IsZero() {
		last = info.CreatedAt
	}
	if th.StallTimeout > 0 && now.Sub(last) > th.StallTimeout {
		return QualityUnacceptable
	}

	loss := rateLoss(info.LossRate, th)
	jitter := rateJitter(info.Jitter, th)
	if jitter > loss {
		return jitter
	}
	return loss
}

func rateLoss(rate float64, th QualityThresholds) Quality {
	switch {
	case rate <= th.ExcellentLoss:
		return QualityExcellent
	case rate <= th.GoodLoss:
		return QualityGood
	case rate <= th.FairLoss:
		return QualityFair
	case rate <= th.PoorLoss:
		return QualityPoor
	default:
		return QualityUnacceptable
	}
}

func rateJitter(jitter time.Duration, th QualityThresholds) Quality {
	switch {
	case jitter <= th.ExcellentJitter:
		return QualityExcellent
	case jitter <= th.GoodJitter:
		return QualityGood
	case jitter <= th.FairJitter:
		return QualityFair
	case jitter <= th.PoorJitter:
		return QualityPoor
	default:
		return QualityUnacceptable
	}
}
