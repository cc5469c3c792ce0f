/*
Package health provides the Checker strategies and availability
bookkeeping a Formation node uses to decide whether a backend is safe
to route traffic to.

# Checkers

Checker is the common interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

Two implementations are wired into product code:

  - TCPChecker dials a formnet IP and reports whether the connection
    opens; cmd/formation-node's runHealthChecks runs one per address
    behind every DNS record on each mesh watch tick and records the
    Result into an IPHealthRepository.
  - HTTPChecker performs an HTTP GET against a URL and classifies the
    response by status code; pkg/build's HTTPBuildServerClient uses one
    to poll a build server's /ping endpoint during its readiness wait,
    accepting any non-5xx response as ready.

Both share Result and the Checker interface, so a caller that only
knows "this address needs checking" doesn't need to know which
transport the check uses.

# Availability tracking

IPHealthRepository (repository.go) is the node-wide view that TCPChecker
results feed: Record stores the latest Result per IP, Available reports
its current health, and Filter strips unhealthy addresses out of a
candidate list. pkg/dns's resolver calls Filter before answering a
query, so a DNS record does not resolve to a formnet IP the node has
observed as unreachable, unless every candidate is unreachable, in
which case the resolver serves the unfiltered list.

Status and Config implement hysteresis for callers that want it:
Retries consecutive failures before flipping Healthy to false, and a
single success flips it back. StartPeriod is read only by
InStartPeriod; Update counts every failure, including those inside the
start period.
*/
package health
