// Package services holds the domain side of the order pipeline: the order
// service that starts a flow over HTTP and the four handlers that consume
// from the pipeline queues.
//
// The real work of each handler (charging a card, sending an email, calling
// a shipping API) is an Operation. SimulatedOperation stands in for those
// dependencies with a fixed delay and a configurable success rate.
package services
