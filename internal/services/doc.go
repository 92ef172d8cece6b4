// Package services provides shared error classification and context plumbing
// for pipeline stages and external worker clients.
package services
