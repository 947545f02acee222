package protocol

// Kind identifies an application-level message. The transport never
// interprets it beyond routing.
type Kind uint16

// Reserved network-class kinds. They form one contiguous block so that
// IsReserved is a range check.
const (
	KindNetworkClassCreated         Kind = 60000
	KindNetworkClassUpdated         Kind = 60001
	KindNetworkClassDeleted         Kind = 60002
	KindNetworkClassSync            Kind = 60003
	KindNetworkClassRequestSyncData Kind = 60004

	firstReservedKind = KindNetworkClassCreated
	lastReservedKind  = KindNetworkClassRequestSyncData
)

// IsReserved reports whether k belongs to the network-class block.
func (k Kind) IsReserved() bool {
	return k >= firstReservedKind && k <= lastReservedKind
}

func (k Kind) String() string {
	switch k {
	case KindNetworkClassCreated:
		return "NetworkClassCreated"
	case KindNetworkClassUpdated:
		return "NetworkClassUpdated"
	case KindNetworkClassDeleted:
		return "NetworkClassDeleted"
	case KindNetworkClassSync:
		return "NetworkClassSync"
	case KindNetworkClassRequestSyncData:
		return "NetworkClassRequestSyncData"
	default:
		return "Application"
	}
}

// FrameType is the transport control code carried by every envelope.
type FrameType uint32

const (
	// FrameData carries an application or network-class message.
	FrameData FrameType = 0

	// FrameConnect is the first frame of a new connection (client -> server).
	FrameConnect FrameType = 1

	// FrameAccept confirms the handshake and assigns the client id.
	FrameAccept FrameType = 2

	// FrameReject refuses the handshake; the server closes afterwards.
	FrameReject FrameType = 3
)

const (
	// DefaultMaxFrameSize bounds a single record. Network-class payloads are
	// small JSON blobs; snapshots are the largest frames.
	DefaultMaxFrameSize = 1 << 20 // 1MB

	// lastFragmentBit marks the final fragment of a record.
	lastFragmentBit = 0x80000000

	// MaxClientID is the largest client id representable on the wire.
	MaxClientID = 0xFFFF
)
