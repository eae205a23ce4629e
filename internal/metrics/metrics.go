package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_mails_sent_total",
			Help: "Total newsletter mails handed to the transport",
		},
	)

	JobsFinished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_jobs_finished_total",
			Help: "Total jobs sent completely",
		},
	)

	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_jobs_failed_total",
			Help: "Total jobs that stopped with an error",
		},
	)

	LinkClicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_link_clicks_total",
			Help: "Total tracked link clicks",
		},
	)

	MailViews = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_mail_views_total",
			Help: "Total first views of mails by contact type",
		},
		[]string{"contact_type"},
	)
)

func Init() {
	prometheus.MustRegister(MailsSent)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(LinkClicks)
	prometheus.MustRegister(MailViews)
}
