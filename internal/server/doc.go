// Package server hosts the Fiber HTTP service and request middleware chain
// for the build node. It bootstraps Fiber, attaches recover and request-ID
// middlewares, exposes the health endpoint, and provides router constructors
// that other packages (main, routes) can reuse. Keep exports narrow and
// accept explicit dependencies so handlers stay testable with app.Test.
package server
