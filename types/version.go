package types

// Version is the canonical agent version.
// The CLI, the HTTP info endpoint and registration all report this value.
const Version = "0.3.0"
