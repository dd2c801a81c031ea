// Package screenshot defines the shared domain types of the screenshot
// service: capture requests, stored records, the error kinds every layer
// reports, and the narrow interfaces the core consumes from its
// collaborators (browser launcher, stores, publisher, telemetry).
package screenshot
