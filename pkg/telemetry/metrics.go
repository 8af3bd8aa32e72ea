package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "turns_total",
		Help:      "Model turns executed, by outcome.",
	}, []string{"outcome"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "tool_calls_total",
		Help:      "Tool calls dispatched through the gateway, by tool and outcome.",
	}, []string{"tool", "outcome"})

	ToolDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "tool_denials_total",
		Help:      "Tool calls rejected by the access policy.",
	}, []string{"tool"})

	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "stream_retries_total",
		Help:      "Model stream retries after transient errors.",
	})

	Exchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "exchanges_total",
		Help:      "Completed exchanges, by mode and terminal frame.",
	}, []string{"mode", "outcome"})
)
