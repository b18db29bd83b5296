package types

// Version is the canonical quill-host version, reported by the version
// command and the host's start log.
const Version = "0.3.0"

// HostName is the default native-messaging host name. Browsers match it
// against the name the extension passes to connectNative.
const HostName = "quill"
