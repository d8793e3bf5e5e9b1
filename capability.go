// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

// Capabilities is a nested mapping from capability name to a (possibly
// empty) sub-mapping of sub-flags, exactly as negotiated in the initialize
// handshake. A capability name present with a nil or empty sub-mapping is
// advertised with no sub-flags set; an empty sub-mapping encodes as the
// JSON `{}` object and a nil one as `null`.
type Capabilities map[string]map[string]bool

// Has reports whether c advertises the named capability at all.
func (c Capabilities) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// SubFlag reports whether c advertises the named capability with the given
// sub-flag set. If the capability is not advertised, or the sub-flag is
// absent, it returns false.
func (c Capabilities) SubFlag(name, flag string) bool {
	sub, ok := c[name]
	if !ok {
		return false
	}
	return sub[flag]
}

// Clone returns a deep copy of c, so that a session's negotiated
// capabilities cannot be mutated by a caller holding a reference returned
// from an accessor.
func (c Capabilities) Clone() Capabilities {
	if c == nil {
		return nil
	}
	out := make(Capabilities, len(c))
	for k, v := range c {
		if v == nil {
			out[k] = nil
			continue
		}
		sub := make(map[string]bool, len(v))
		for f, b := range v {
			sub[f] = b
		}
		out[k] = sub
	}
	return out
}

// methodCapability maps a dispatcher-recognized method name to the
// capability name that gates it. A caller checks this against the peer's
// Capabilities before invoking the method (it must be the peer who can
// handle it); a responder checks it against its own Capabilities before
// dispatching an inbound request for it (it must be itself who offers the
// feature). Methods absent from this table (initialize, ping, and all
// notifications) are ungated.
var methodCapability = map[string]string{
	"resources/list":           "resources",
	"resources/templates/list": "resources",
	"resources/read":           "resources",
	"resources/subscribe":      "resources",
	"resources/unsubscribe":    "resources",
	"tools/list":               "tools",
	"tools/call":               "tools",
	"prompts/list":             "prompts",
	"prompts/get":              "prompts",
	"completion/complete":      "completion",
	"logging/setLevel":         "logging",
	"roots/list":               "roots",
}

// featureOfMethod returns the capability name that gates method, and
// reports whether the method is gated at all. initialize and ping are
// never gated.
func featureOfMethod(method string) (string, bool) {
	if method == "initialize" || method == "ping" {
		return "", false
	}
	cap, ok := methodCapability[method]
	return cap, ok
}
