package sparkle

import "github.com/ShiRenzhi/sparkle/pkg/link"

// ProtocolVersion is the link protocol version spoken by this build.
// A join is aborted when the bootstrap node replies with a different
// version.
const ProtocolVersion = link.ProtocolVersion

// Version is the library release version, set at build time for
// binaries via -ldflags.
var Version = "dev"
