/*
Package resilience provides the circuit breaker that bounds domain restarts.

A Breaker admits attempts, records whether each one succeeded and stops
admitting new ones after too many consecutive failures. Unlike a request
breaker, an attempt may stay open for a long time: a supervised domain's
run starts with Admit and ends with Succeed or Fail when the domain exits
or crashes.

	breaker := resilience.New("netd", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	attempt, err := breaker.Admit()
	if err != nil {
		return err // crash loop, stay down
	}
	defer attempt.Fail()

States move as follows:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open
*/
package resilience
