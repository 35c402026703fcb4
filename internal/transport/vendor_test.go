package transport

import "testing"

func TestIsOpenSSHVendorMatchesModernVersions(t *testing.T) {
	cases := []struct {
		ident string
		want  bool
	}{
		{"SSH-2.0-OpenSSH_9.6", true},
		{"SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1", true},
		{"SSH-2.0-OpenSSH_10.0", true},
		{"SSH-2.0-OpenSSH_4.3", false},
		{"SSH-2.0-libssh_0.9.6", false},
		{"SSH-2.0-dropbear_2022.83", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsOpenSSHVendor(c.ident); got != c.want {
			t.Errorf("IsOpenSSHVendor(%q) = %v, want %v", c.ident, got, c.want)
		}
	}
}
