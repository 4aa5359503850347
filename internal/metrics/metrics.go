/*
fast-mailer - Outbound SMTP submission client.
Copyright © 2024 fast-mailer contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package metrics accumulates in-memory delivery statistics and mirrors
// them into Prometheus collectors.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
)

// DurationBuckets are the cumulative histogram cutoffs, in seconds.
var DurationBuckets = []float64{0.1, 0.5, 1, 2, 5}

// FailureRecord is one entry of the failure ledger.
type FailureRecord struct {
	Code       string
	Kind       exterrors.Kind
	Message    string
	Recipients []string
	Timestamp  time.Time
}

// DurationStats summarizes send durations in seconds. Min starts at +Inf
// until the first sample arrives.
type DurationStats struct {
	Sum   float64
	Count uint64
	Avg   float64
	Max   float64
	Min   float64
}

// Snapshot is a point-in-time copy of the accumulator, safe to retain.
type Snapshot struct {
	EmailsTotal      uint64
	EmailsSuccessful uint64
	EmailsFailed     uint64

	ConnectionErrors       uint64
	RateLimitExceededTotal uint64

	TotalRetryAttempts uint64
	SuccessfulRetries  uint64

	BannedRecipientsCount int64
	ConsecutiveFailures   uint64

	Duration DurationStats

	// Buckets holds cumulative counts keyed by the DurationBuckets
	// cutoffs.
	Buckets map[float64]uint64

	// EmailSendRate is emails_total divided by the minutes elapsed since
	// the previous send. A noisy per-send ratio, not a true throughput.
	EmailSendRate float64

	// LastEmailStatus is "success", "failure" or "none".
	LastEmailStatus    string
	LastEmailTimestamp time.Time

	ErrorsByKind map[string]uint64

	Failures                []FailureRecord
	ErrorCountByRecipient   map[string]uint64
	AvgFailuresPerRecipient float64
}

// Recorder is the delivery metrics accumulator. All methods are
// goroutine-safe.
type Recorder struct {
	now func() time.Time

	lck sync.Mutex

	emailsTotal      uint64
	emailsSuccessful uint64
	emailsFailed     uint64

	connectionErrors       uint64
	rateLimitExceededTotal uint64

	totalRetryAttempts uint64
	successfulRetries  uint64

	bannedRecipientsCount int64
	consecutiveFailures   uint64

	duration DurationStats
	buckets  map[float64]uint64

	emailSendRate      float64
	lastEmailStatus    string
	lastEmailTimestamp time.Time

	errorsByKind map[string]uint64

	failures              []FailureRecord
	errorCountByRecipient map[string]uint64
}

func NewRecorder() *Recorder {
	r := &Recorder{
		now:                   time.Now,
		buckets:               map[float64]uint64{},
		lastEmailStatus:       "none",
		errorsByKind:          map[string]uint64{},
		errorCountByRecipient: map[string]uint64{},
	}
	r.duration.Min = math.Inf(1)
	for _, b := range DurationBuckets {
		r.buckets[b] = 0
	}
	for _, k := range exterrors.Kinds() {
		r.errorsByKind[k.String()] = 0
	}
	return r
}

// RecordSuccess accounts one delivered message that took d.
func (r *Recorder) RecordSuccess(d time.Duration) {
	r.lck.Lock()
	defer r.lck.Unlock()

	r.emailsTotal++
	r.emailsSuccessful++
	r.consecutiveFailures = 0
	r.observeDuration(d)
	r.updateRate()
	r.lastEmailStatus = "success"

	emailsSent.WithLabelValues("success").Inc()
	sendDuration.Observe(d.Seconds())
}

// RecordFailure accounts one failed message that took d, appends it to
// the failure ledger and bumps the per-recipient failure counts.
func (r *Recorder) RecordFailure(rec FailureRecord, d time.Duration) {
	r.lck.Lock()
	defer r.lck.Unlock()

	r.emailsTotal++
	r.emailsFailed++
	r.consecutiveFailures++
	r.observeDuration(d)
	r.updateRate()
	r.lastEmailStatus = "failure"

	r.countError(rec.Kind)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	r.failures = append(r.failures, rec)
	for _, rcpt := range rec.Recipients {
		r.errorCountByRecipient[rcpt]++
	}

	emailsSent.WithLabelValues("failure").Inc()
	sendDuration.Observe(d.Seconds())
}

// RecordRejection accounts a failure that never produced a transaction
// (validation or rate-limit rejection). emails_total is not touched.
func (r *Recorder) RecordRejection(rec FailureRecord) {
	r.lck.Lock()
	defer r.lck.Unlock()

	r.countError(rec.Kind)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	r.failures = append(r.failures, rec)
	for _, rcpt := range rec.Recipients {
		r.errorCountByRecipient[rcpt]++
	}
}

// RecordConnectionProbeFailure accounts a failed connection probe.
func (r *Recorder) RecordConnectionProbeFailure() {
	r.lck.Lock()
	defer r.lck.Unlock()

	r.connectionErrors++
	r.errorsByKind[exterrors.KindConnection.String()]++
	r.lastEmailStatus = "failure"

	errorsTotal.WithLabelValues(exterrors.KindConnection.String()).Inc()
}

func (r *Recorder) RecordRateLimitExceeded() {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.rateLimitExceededTotal++
	rateLimited.Inc()
}

func (r *Recorder) RecordBan() {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.bannedRecipientsCount++
	bannedRecipients.Inc()
}

func (r *Recorder) RecordBanExpiry() {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.bannedRecipientsCount--
	bannedRecipients.Dec()
}

// RecordRetryAttempt accounts one reconnection of a kept-alive session.
func (r *Recorder) RecordRetryAttempt() {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.totalRetryAttempts++
}

func (r *Recorder) RecordSuccessfulRetry() {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.successfulRetries++
}

// Snapshot returns a copy of all accumulated values.
func (r *Recorder) Snapshot() Snapshot {
	r.lck.Lock()
	defer r.lck.Unlock()

	s := Snapshot{
		EmailsTotal:            r.emailsTotal,
		EmailsSuccessful:       r.emailsSuccessful,
		EmailsFailed:           r.emailsFailed,
		ConnectionErrors:       r.connectionErrors,
		RateLimitExceededTotal: r.rateLimitExceededTotal,
		TotalRetryAttempts:     r.totalRetryAttempts,
		SuccessfulRetries:      r.successfulRetries,
		BannedRecipientsCount:  r.bannedRecipientsCount,
		ConsecutiveFailures:    r.consecutiveFailures,
		Duration:               r.duration,
		Buckets:                make(map[float64]uint64, len(r.buckets)),
		EmailSendRate:          r.emailSendRate,
		LastEmailStatus:        r.lastEmailStatus,
		LastEmailTimestamp:     r.lastEmailTimestamp,
		ErrorsByKind:           make(map[string]uint64, len(r.errorsByKind)),
		Failures:               make([]FailureRecord, len(r.failures)),
		ErrorCountByRecipient:  make(map[string]uint64, len(r.errorCountByRecipient)),
	}
	for b, n := range r.buckets {
		s.Buckets[b] = n
	}
	for k, n := range r.errorsByKind {
		s.ErrorsByKind[k] = n
	}
	copy(s.Failures, r.failures)
	var failureSum uint64
	for rcpt, n := range r.errorCountByRecipient {
		s.ErrorCountByRecipient[rcpt] = n
		failureSum += n
	}
	if len(r.errorCountByRecipient) != 0 {
		s.AvgFailuresPerRecipient = float64(failureSum) / float64(len(r.errorCountByRecipient))
	}
	return s
}

func (r *Recorder) countError(kind exterrors.Kind) {
	r.errorsByKind[kind.String()]++
	if kind == exterrors.KindConnection {
		r.connectionErrors++
	}
	errorsTotal.WithLabelValues(kind.String()).Inc()
}

func (r *Recorder) observeDuration(d time.Duration) {
	s := d.Seconds()

	r.duration.Sum += s
	r.duration.Count++
	r.duration.Avg = r.duration.Sum / float64(r.duration.Count)
	if s > r.duration.Max {
		r.duration.Max = s
	}
	if s < r.duration.Min {
		r.duration.Min = s
	}

	for _, b := range DurationBuckets {
		if s <= b {
			r.buckets[b]++
		}
	}
}

// updateRate recomputes email_send_rate against the previous send
// timestamp and then advances it. Call after the total counters moved.
func (r *Recorder) updateRate() {
	now := r.now()
	if !r.lastEmailTimestamp.IsZero() {
		minutes := now.Sub(r.lastEmailTimestamp).Minutes()
		if minutes > 0 {
			r.emailSendRate = float64(r.emailsTotal) / minutes
		}
	}
	r.lastEmailTimestamp = now
}
