// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

// ProtocolVersions lists the protocol version strings this engine
// understands, oldest first. Negotiation picks the highest version both
// peers support; anything outside this set is rejected with InvalidParams.
var ProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	"2025-06-18",
}

// protocolFeatures records, per protocol version, the wire features that
// version strictly adds over its predecessor. Later versions always
// include everything an earlier version has, so membership is computed by
// index rather than by replicating the full feature set at each entry.
var protocolFeatures = map[string][]string{
	"2024-11-05": {},
	"2025-03-26": {"batch", "tool_annotations", "audio_content"},
	"2025-06-18": {"elicitation", "structured_tool_output"},
}

// isKnownProtocolVersion reports whether v is one of ProtocolVersions.
func isKnownProtocolVersion(v string) bool {
	for _, p := range ProtocolVersions {
		if p == v {
			return true
		}
	}
	return false
}

// protocolVersionIndex returns the position of v in ProtocolVersions, or -1
// if v is not recognized.
func protocolVersionIndex(v string) int {
	for i, p := range ProtocolVersions {
		if p == v {
			return i
		}
	}
	return -1
}

// negotiateProtocolVersion picks the highest version in common between the
// versions this engine supports and the peer's requested version. Since a
// peer proposes a single version (not a set) during handshake, negotiation
// succeeds if that version is recognized and fails otherwise; the "pick
// highest common version" rule applies to the two ends' supported sets, of
// which this engine's is ProtocolVersions.
func negotiateProtocolVersion(requested string) (string, bool) {
	if isKnownProtocolVersion(requested) {
		return requested, true
	}
	return "", false
}

// hasFeature reports whether protocol version v advertises feature f,
// either because v introduces it directly or because a predecessor version
// of v did.
func hasFeature(v, f string) bool {
	idx := protocolVersionIndex(v)
	if idx < 0 {
		return false
	}
	for i := 0; i <= idx; i++ {
		for _, have := range protocolFeatures[ProtocolVersions[i]] {
			if have == f {
				return true
			}
		}
	}
	return false
}

// supportsBatch reports whether protocol version v permits batch framing.
func supportsBatch(v string) bool { return hasFeature(v, "batch") }

// Implementation identifies one endpoint of a session (client or server)
// by name and version, exchanged during the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
