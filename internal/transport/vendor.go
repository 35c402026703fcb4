package transport

import "regexp"

// openSSHVendorRegexp matches identification strings of the form
// "OpenSSH_<major>[.<minor>]..." where major is a single digit >= 5 or any
// multi-digit major version.
var openSSHVendorRegexp = regexp.MustCompile(`OpenSSH_([0-9]+)(?:\.[0-9]+)?`)

// IsOpenSSHVendor reports whether the remote identification string
// matches a modern OpenSSH server.
func IsOpenSSHVendor(remoteIdent string) bool {
	m := openSSHVendorRegexp.FindStringSubmatch(remoteIdent)
	if m == nil {
		return false
	}
	major := m[1]
	if len(major) > 1 {
		return true
	}
	return major[0] >= '5'
}
