// Package main is the sidejs command: it evaluates a JavaScript file inside
// a time- and memory-bounded sandbox and prints the final value.
//
// Usage:
//
//	sidejs [options] [script..] [-- [args]]
//
// Options:
//
//	-c <code>  Evaluate code given on the command line
//	-dev       Colored debug logging
//	--         Stop processing options; the rest becomes scriptArgs
//
// With no script arguments, the script is read from standard input. The
// process exits 0 only when the evaluation completes; deadline and memory
// violations, top-level script errors, and engine faults exit non-zero.
//
// Resource budgets come from SIDEJS_* environment variables (12-factor), see
// internal/config.
package main
