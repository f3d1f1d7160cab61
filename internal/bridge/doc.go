/*
Package bridge is the boundary layer between native capabilities and the
script: it installs fetch, XMLHttpRequest, and the Sidevm namespace
(httpRequest, hash, hashAsync, codec) into a sandbox.

The bridge is the only component with a foot in both worlds. Its call side
runs inside an engine call on the loop goroutine; its completion side runs on
the I/O substrate and crosses back exclusively through PendingCall.Deliver.
Two rules keep the ordering sane:

  - Promises returned by host functions never settle in the turn that
    created them. Even instantly available results (hashing, validation
    failures) settle through a job enqueued before control returns.
  - Validation happens eagerly: requests with a bad scheme, a disallowed
    origin, an invalid header, or an oversized body are rejected before the
    I/O substrate ever sees them.

Script-recoverable failures carry a code property (VALIDATION_ERROR,
NETWORK_ERROR, CODEC_ERROR, RESOURCE_EXHAUSTED) so scripts can branch on the
failure class.
*/
package bridge
