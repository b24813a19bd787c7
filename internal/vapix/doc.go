// Package vapix implements device.Client for Axis cameras.
//
// User management goes through pwdgrp.cgi, parameters through param.cgi,
// the static address through the JSON network settings API with an
// admin/param.cgi fallback, and the integration user optionally through
// the ONVIF device service. Authenticated calls answer the camera's Digest
// (SHA-256 or MD5) or Basic challenge.
//
// The client never retries on its own. Every method returns a
// device.Result whose Transient flag tells the caller whether another
// attempt may help.
package vapix
