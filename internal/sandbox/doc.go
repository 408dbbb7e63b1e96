/*
Package sandbox runs untrusted parser plugins.

# Overview

An Engine creates interpreter Contexts for one language. A Pool keeps a
few contexts warm, bounds how many exist, and resets each one before it
is reused; a context that cannot be reset is destroyed instead. The
Coordinator takes a plugin execution through its states:

	PENDING -> BOUND -> RUNNING -> COMPLETED | FAILED | TIMED_OUT | CANCELLED

BOUND means host objects are installed and the source has been
evaluated. RUNNING means the capability's entry point was invoked.

# Host objects

Every execution gets its own bindings: the share link input, a network
bridge client, a logger writing into the execution's LogSink, and a
module resolver that consults the language's security policy. Host values
are plain Go values (see package host) that each engine converts.

# Cancellation

A timer interrupts the engine when the timeout elapses. Interrupts are
checked by the interpreter at safe points, and a blocking host call ends
when its context is cancelled. A run still going after the grace period
is abandoned and its context destroyed once it returns, so cancellation
latency is bounded by timeout plus grace.
*/
package sandbox
