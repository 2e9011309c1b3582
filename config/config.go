package config

// NodeConfiguration carries everything a node needs to come up. It is
// populated from command line flags by the entry point and passed
// around read-only afterwards.
type NodeConfiguration struct {
	// BindAddress is the UDP address the node listens on for protocol
	// datagrams. A port of 0 asks the kernel for a free port.
	BindAddress string

	// AdminAddress is the TCP address of the REST diagnostics surface.
	// Leaving it empty disables the admin server entirely.
	AdminAddress string

	// BootstrapPeers are addresses pinged right after startup so the
	// node announces itself and learns its first contacts.
	BootstrapPeers []string
}
