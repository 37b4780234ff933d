package protocol

// Version is the client library version reported in the User-Agent header.
// Bumped manually alongside tagged releases.
const Version = "0.1.0"

// UserAgent is the full User-Agent header value sent on every control-plane
// and gateway request, mirroring the Rust client's "ActorClient-Rust/<ver>".
const UserAgent = UserAgentPrefix + "/" + Version
