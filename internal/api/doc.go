// Package api is the HTTP surface reviewers reach from chat links: feedback
// on an event, the tracked redirect to the dashboard and a health probe.
package api
