package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SigninAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signin_attempts_total",
		Help: "Sign-in attempts by provider and result.",
	}, []string{"provider", "result"})

	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Authorization gate decisions by outcome.",
	}, []string{"outcome"})

	SessionsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_revoked_total",
		Help: "Sessions destroyed by sign-out.",
	})
)
