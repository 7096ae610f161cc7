package canon

import "testing"

func TestIsPrivateIPLoopback(t *testing.T) {
	cases := []string{"127.0.0.1", "127.255.255.254", "::1"}
	for _, c := range cases {
		if !IsPrivateIP(c) {
			t.Errorf("expected %s to be private (loopback)", c)
		}
	}
}

func TestIsPrivateIPRFC1918(t *testing.T) {
	cases := []string{"10.0.0.1", "172.16.0.1", "172.31.255.255", "192.168.1.1"}
	for _, c := range cases {
		if !IsPrivateIP(c) {
			t.Errorf("expected %s to be private (RFC1918)", c)
		}
	}
}

func TestIsPrivateIPLinkLocal(t *testing.T) {
	cases := []string{"169.254.1.1", "fe80::1"}
	for _, c := range cases {
		if !IsPrivateIP(c) {
			t.Errorf("expected %s to be private (link-local)", c)
		}
	}
}

func TestIsPrivateIPUniqueLocal(t *testing.T) {
	if !IsPrivateIP("fc00::1") {
		t.Errorf("expected fc00::1 to be private (unique-local)")
	}
}

func TestIsPrivateIPCurrentNetwork(t *testing.T) {
	if !IsPrivateIP("0.1.2.3") {
		t.Errorf("expected 0.1.2.3 to be private (current-network)")
	}
}

func TestIsPrivateIPUnparsableFailsClosed(t *testing.T) {
	cases := []string{"", "not-an-ip", "999.999.999.999", "metadata.internal"}
	for _, c := range cases {
		if !IsPrivateIP(c) {
			t.Errorf("expected unparsable %q to fail closed as private", c)
		}
	}
}

func TestIsPrivateIPPublicAddressesAllowed(t *testing.T) {
	cases := []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"}
	for _, c := range cases {
		if IsPrivateIP(c) {
			t.Errorf("expected %s to be public", c)
		}
	}
}

func TestIsPrivateIPv4MappedIPv6(t *testing.T) {
	if !IsPrivateIP("::ffff:127.0.0.1") {
		t.Errorf("expected ::ffff:127.0.0.1 to be recognized as private via v4-mapped coercion")
	}
}

func TestIsPrivateIPZoneID(t *testing.T) {
	if !IsPrivateIP("fe80::1%eth0") {
		t.Errorf("expected link-local address with zone id to be private")
	}
}

func TestIPInCIDRBasic(t *testing.T) {
	if !IPInCIDR("10.1.2.3", "10.0.0.0/8") {
		t.Errorf("expected 10.1.2.3 in 10.0.0.0/8")
	}
	if IPInCIDR("11.1.2.3", "10.0.0.0/8") {
		t.Errorf("expected 11.1.2.3 not in 10.0.0.0/8")
	}
}

func TestIPInCIDRv4MappedCoercion(t *testing.T) {
	if !IPInCIDR("::ffff:10.1.2.3", "10.0.0.0/8") {
		t.Errorf("expected v4-mapped address to match v4 CIDR")
	}
}

func TestIPInCIDRInvalidInputs(t *testing.T) {
	if IPInCIDR("not-an-ip", "10.0.0.0/8") {
		t.Errorf("expected invalid IP to not match any CIDR")
	}
	if IPInCIDR("10.1.2.3", "not-a-cidr") {
		t.Errorf("expected invalid CIDR to not match")
	}
}
