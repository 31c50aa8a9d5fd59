package wire

// Message type identifiers carried in the frame header.
const (
	TypeReadResp    uint16 = 0x00A3
	TypeReadReq     uint16 = 0x00A8
	TypeReadDirReq  uint16 = 0x00A9
	TypeReadDirResp uint16 = 0x00AA
	TypeWriteResp   uint16 = 0x00AB
	TypeRemoveReq   uint16 = 0x00AC
	TypeWriteReq    uint16 = 0x00AD
)

// DefaultSender is the sender id stamped on frames originated by this host.
const DefaultSender uint16 = 0x42
