/*
Package resilience provides circuit breakers for outbound plugin traffic.

# Overview

Plugins fetch share pages from third-party hosts through the network
bridge. When a host starts failing, its breaker opens and further calls
fail fast until a cooldown passes and a probe succeeds.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Cooldown: 30 * time.Second,
		ShouldTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 10
		},
	})

	body, err := resilience.Execute(group.Get(host), func() ([]byte, error) {
		return fetch(host)
	})

# States

	Closed --[trip]-> Open --[cooldown]-> Half-Open --[probes ok]-> Closed
	                                          |
	                                      [failure]
	                                          v
	                                         Open
*/
package resilience
