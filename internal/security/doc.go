/*
Package security vets plugin source and mediates host symbol access.

Two strategies implement one Policy contract:

  - ChokePointPolicy: deny-by-default allowlist enforced at the single
    host-module resolver the JavaScript runtime exposes (require). Access is
    judged lazily, at first use, and every denial is logged.
  - StaticScanPolicy: lexical scan of Python-dialect source for banned
    imports, banned qualified calls, banned builtins, reflection escapes and
    file writes. It reports every violation it finds in one result.

The static scan is best effort. A banned call assembled at runtime from
strings is invisible to it, so the Python runtime is additionally built with
no filesystem, socket or process modules at all.
*/
package security
