// Package renderstub provides an in-process fake of the managed render farm
// controller for integration tests. It implements the function, site, quota,
// render, and progress endpoints with configurable responses and failure
// injection, and records every interaction for assertions.
package renderstub
