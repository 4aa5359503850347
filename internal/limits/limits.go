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

// Package limits enforces the per-recipient sending policy: burst
// admission within a cooldown window, rapid-attempt detection,
// consecutive-failure tracking and time-bounded bans.
package limits

import (
	"sync"
	"time"

	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
)

type Config struct {
	// BurstLimit is the maximum number of admissions per recipient within
	// one cooldown window.
	BurstLimit int

	// CooldownPeriod is the window after which a recipient's admission
	// count resets.
	CooldownPeriod time.Duration

	// BanDuration is how long a banned recipient stays rejected.
	BanDuration time.Duration

	// MaxConsecutiveFailures is the failure streak that triggers a ban
	// when the last failure is within FailureCooldown.
	MaxConsecutiveFailures int
	FailureCooldown        time.Duration

	// MaxRapidAttempts attempts within RapidPeriod trigger a ban.
	MaxRapidAttempts int
	RapidPeriod      time.Duration

	// MaxRecipients bounds the recipient state map. Stale entries are
	// reaped by last attempt time once the map is full.
	MaxRecipients int
}

// Events receives controller transitions for the metrics accumulator.
type Events interface {
	RecordRateLimitExceeded()
	RecordBan()
	RecordBanExpiry()
}

type recipientState struct {
	count     int
	lastReset time.Time

	banned    bool
	banExpiry time.Time

	consecutiveFailures int
	lastFailure         time.Time

	rapidAttempts int
	lastAttempt   time.Time
}

// L tracks per-recipient state. All methods are goroutine-safe.
type L struct {
	cfg    Config
	events Events

	now func() time.Time

	mLck sync.Mutex
	m    map[string]*recipientState
}

func New(cfg Config, events Events) *L {
	return &L{
		cfg:    cfg,
		events: events,
		now:    time.Now,
		m:      map[string]*recipientState{},
	}
}

// Check admits or rejects one send attempt to rcpt. A nil return means
// the attempt is admitted and counted against the recipient's burst
// budget. Rejections are ERATELIMIT errors.
func (l *L) Check(rcpt string) error {
	l.mLck.Lock()
	defer l.mLck.Unlock()

	now := l.now()
	state := l.take(rcpt, now)

	// Rapid-attempt detection runs first so that hammering a banned
	// recipient extends into a fresh ban instead of waiting out the
	// current one.
	if now.Sub(state.lastAttempt) < l.cfg.RapidPeriod {
		state.rapidAttempts++
		if state.rapidAttempts >= l.cfg.MaxRapidAttempts {
			l.ban(state, now)
			state.lastAttempt = now
			l.events.RecordRateLimitExceeded()
			return l.reject(rcpt, "Too many rapid sending attempts")
		}
	} else {
		state.rapidAttempts = 1
	}
	state.lastAttempt = now

	if state.banned {
		if now.Before(state.banExpiry) {
			l.events.RecordRateLimitExceeded()
			return l.reject(rcpt, "Recipient is temporarily banned").
				WithMisc("ban_expiry", state.banExpiry)
		}
		// Ban expired: clear everything atomically.
		state.banned = false
		state.count = 0
		state.lastReset = now
		state.consecutiveFailures = 0
		state.rapidAttempts = 0
		l.events.RecordBanExpiry()
	}

	if state.consecutiveFailures >= l.cfg.MaxConsecutiveFailures {
		if now.Sub(state.lastFailure) < l.cfg.FailureCooldown {
			l.ban(state, now)
			l.events.RecordRateLimitExceeded()
			return l.reject(rcpt, "Too many consecutive delivery failures")
		}
		state.consecutiveFailures = 0
	}

	if now.Sub(state.lastReset) > l.cfg.CooldownPeriod {
		state.count = 0
		state.lastReset = now
	}

	if state.count >= l.cfg.BurstLimit {
		l.events.RecordRateLimitExceeded()
		return l.reject(rcpt, "Rate limit exceeded for recipient")
	}

	state.count++
	return nil
}

// RecordSuccess resets the failure streak of every recipient of a
// delivered message.
func (l *L) RecordSuccess(rcpts []string) {
	l.mLck.Lock()
	defer l.mLck.Unlock()

	for _, rcpt := range rcpts {
		if state, ok := l.m[rcpt]; ok {
			state.consecutiveFailures = 0
		}
	}
}

// RecordFailure extends the failure streak of every recipient of a failed
// message.
func (l *L) RecordFailure(rcpts []string) {
	l.mLck.Lock()
	defer l.mLck.Unlock()

	now := l.now()
	for _, rcpt := range rcpts {
		state := l.take(rcpt, now)
		state.consecutiveFailures++
		state.lastFailure = now
	}
}

func (l *L) ban(state *recipientState, now time.Time) {
	if !state.banned {
		l.events.RecordBan()
	}
	state.banned = true
	state.banExpiry = now.Add(l.cfg.BanDuration)
}

func (l *L) reject(rcpt, msg string) *exterrors.SendError {
	return exterrors.New(exterrors.CodeRateLimit, exterrors.KindRateLimit, msg).
		WithMisc("recipient", rcpt)
}

// take materializes the state entry for rcpt, reaping stale entries when
// the map is full.
func (l *L) take(rcpt string, now time.Time) *recipientState {
	state, ok := l.m[rcpt]
	if ok {
		return state
	}

	if l.cfg.MaxRecipients > 0 && len(l.m) >= l.cfg.MaxRecipients {
		l.reap(now)
	}

	state = &recipientState{lastReset: now}
	l.m[rcpt] = state
	return state
}

func (l *L) reap(now time.Time) {
	staleAfter := 2 * l.cfg.CooldownPeriod
	if d := 2 * l.cfg.RapidPeriod; d > staleAfter {
		staleAfter = d
	}
	if d := 2 * l.cfg.FailureCooldown; d > staleAfter {
		staleAfter = d
	}

	for key, state := range l.m {
		if state.banned && now.Before(state.banExpiry) {
			continue
		}
		if now.Sub(state.lastAttempt) > staleAfter {
			delete(l.m, key)
		}
	}

	// All entries fresh: evict the least recently attempted one to keep
	// the map bounded.
	if len(l.m) >= l.cfg.MaxRecipients {
		var (
			oldestKey  string
			oldestSeen time.Time
		)
		for key, state := range l.m {
			if oldestKey == "" || state.lastAttempt.Before(oldestSeen) {
				oldestKey = key
				oldestSeen = state.lastAttempt
			}
		}
		if oldestKey != "" {
			delete(l.m, oldestKey)
		}
	}
}
