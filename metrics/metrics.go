package metrics

import "time"

// Metric names recorded by paygate components.
const (
	PaymentSubmitted    = "payment_submitted"
	PaymentConfirmed    = "payment_confirmed"
	PaymentFailed       = "payment_failed"
	PaymentConfirmation = "payment_confirmation"
	UploadSubmitted     = "upload_submitted"
	UploadSucceeded     = "upload_succeeded"
	UploadFailed        = "upload_failed"
	UploadLatency       = "upload"
	RelayAccepted       = "relay_accepted"
	RelayRejected       = "relay_rejected"
	RelayStore          = "relay_store"
	VerifyHit           = "verify_hit"
	VerifyMiss          = "verify_miss"
)

// Recorder receives counters and latencies from paygate components.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
