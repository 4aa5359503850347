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

package metrics

import "github.com/prometheus/client_golang/prometheus"

var emailsSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fastmailer",
		Name:      "emails_sent",
		Help:      "Completed send attempts by outcome",
	},
	[]string{"status"},
)

var sendDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fastmailer",
		Name:      "send_duration_seconds",
		Help:      "Time spent on one send attempt",
		Buckets:   DurationBuckets,
	},
)

var errorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fastmailer",
		Name:      "errors",
		Help:      "Send failures by error kind",
	},
	[]string{"kind"},
)

var rateLimited = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fastmailer",
		Name:      "rate_limit_exceeded",
		Help:      "Send attempts rejected by the rate limiter",
	},
)

var bannedRecipients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fastmailer",
		Name:      "banned_recipients",
		Help:      "Recipients currently banned",
	},
)

func init() {
	prometheus.MustRegister(emailsSent)
	prometheus.MustRegister(sendDuration)
	prometheus.MustRegister(errorsTotal)
	prometheus.MustRegister(rateLimited)
	prometheus.MustRegister(bannedRecipients)
}
