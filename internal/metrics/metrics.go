// Package metrics defines the Prometheus collectors for chatzipper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatzipper_messages_stored_total",
		Help: "Messages persisted per chat",
	}, []string{"chat"})

	messagesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatzipper_messages_rejected_total",
		Help: "Messages dropped before storage by reason",
	}, []string{"reason"}) // reason=unauthorized_chat|invalid_user|empty_text

	summariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatzipper_summaries_total",
		Help: "Summary generation attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|skipped

	summaryDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatzipper_summary_duration_seconds",
		Help:    "Time spent generating one summary, including the upstream call",
		Buckets: prometheus.DefBuckets,
	})

	openaiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatzipper_openai_requests_total",
		Help: "OpenAI chat completion requests by status",
	}, []string{"status"}) // status=success|error|throttled

	offersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatzipper_summary_offers_total",
		Help: "Summary offers sent and their callback resolution",
	}, []string{"action"}) // action=sent|accepted|declined|expired

	telegramSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatzipper_telegram_send_errors_total",
		Help: "Failed Telegram send/delete operations",
	})

	purgedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatzipper_purged_messages_total",
		Help: "Messages removed by the retention sweeper",
	})

	unreadBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatzipper_unread_backlog",
		Help: "Unread backlog observed at the last threshold check",
	})
)

func IncMessageStored(chat string) { messagesStoredTotal.WithLabelValues(chat).Inc() }
func IncMessageRejected(reason string) { messagesRejectedTotal.WithLabelValues(reason).Inc() }

func IncSummary(outcome string)          { summariesTotal.WithLabelValues(outcome).Inc() }
func ObserveSummaryDuration(sec float64) { summaryDurationSeconds.Observe(sec) }

func IncOpenAIRequest(status string) { openaiRequestsTotal.WithLabelValues(status).Inc() }

func IncOffer(action string) { offersTotal.WithLabelValues(action).Inc() }

func IncTelegramSendError() { telegramSendErrors.Inc() }

func AddPurgedMessages(n int64) { purgedMessagesTotal.Add(float64(n)) }

func RecordUnreadBacklog(n int) { unreadBacklog.Set(float64(n)) }
