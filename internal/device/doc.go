// Package device defines the boundary between the provisioning pipeline
// and whatever talks to a camera's vendor API.
//
// The pipeline depends only on Client and on the Result it returns: a
// success flag, an operator-facing message, and whether the failure is
// transient. Concrete clients live elsewhere (see package vapix).
//
// The package also carries the shared value types that cross that
// boundary (Target, Directive, Credentials, Identity), hardware-id
// normalisation, and the DeviceError taxonomy used to classify transport
// failures:
//
//	Timeout, ConnectionRefused, reset, unreachable  -> transient
//	HTTP 5xx                                        -> transient
//	Authentication (401), HTTP 4xx, parse, API      -> not transient
package device
