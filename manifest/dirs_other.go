//go:build !linux && !darwin

package manifest

// Windows registers manifests in the registry, which is not handled here.
var locations = map[Browser]location{}
