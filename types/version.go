package types

// Version is the canonical project version.
// The CLI, the host IPC protocol, and the session file schema share this
// version; a session file written by one version is readable by any later
// version within the same major.
const Version = "0.3.0"
