package dbus

// Well-known interface names used by the bus daemon and by every
// peer, regardless of what else they implement.
const (
	ifaceBus   = "org.freedesktop.DBus"
	ifaceProps = "org.freedesktop.DBus.Properties"
	ifacePeer  = "org.freedesktop.DBus.Peer"
)
