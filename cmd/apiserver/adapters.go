package main

import (
	"github.com/turtacn/RegScan/internal/bootstrap"
	"github.com/turtacn/RegScan/internal/interfaces/http/handlers"
)

// healthCheckers adapts the connected backends to readiness checks.
func healthCheckers(infra *bootstrap.Infrastructure) []handlers.HealthChecker {
	checks := infra.Checks()
	out := make([]handlers.HealthChecker, 0, len(checks))
	for _, c := range checks {
		out = append(out, handlers.CheckFunc{Component: c.Name, Fn: c.Fn})
	}
	return out
}
