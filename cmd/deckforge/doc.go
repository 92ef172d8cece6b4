// Command deckforge is the CLI for the deckforge pipeline daemon: it runs
// the daemon and drives its HTTP API for submissions, status, retries, and
// cache maintenance.
package main
