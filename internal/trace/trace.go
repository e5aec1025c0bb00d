// Package trace implements the binary trace format: a compact
// little-endian record stream with an object table header, written by
// the runtime and read back by the CLI and the trace store.
//
// File layout:
//
//	header  start_time int64
//	        table_size int32
//	        table_size x { pointer uint64, description byte* NUL }
//	body    frames of { length int32, length x record }
//
// A record is a fixed 56-byte little-endian struct; see Record. Frames
// correspond to buffer flushes and carry no semantics beyond framing.
package trace

import "fmt"

// EventType discriminates trace records. The numeric values are part of
// the file format and must not be reordered.
type EventType int32

const (
	ReactionStarts EventType = iota
	ReactionEnds
	ReactionDeadlineMissed
	ScheduleCalled
	UserEvent
	UserValue
	WorkerWaitStarts
	WorkerWaitEnds
	AdvancingTimeStarts
	AdvancingTimeEnds
	// FederatedMarker separates local event types from the federated
	// message types below it.
	FederatedMarker
)

// Federated message event types. Send and receive blocks mirror each
// other; ReceiveUnidentified has no send counterpart.
const (
	SendACK EventType = FederatedMarker + 1 + iota
	SendFailed
	SendTimestamp
	SendNET
	SendLTC
	SendStopReq
	SendStopReqRep
	SendStopGrn
	SendFedID
	SendPTAG
	SendTAG
	SendReject
	SendResign
	SendPortAbsent
	SendCloseReq
	SendTaggedMsg
	SendP2PTaggedMsg
	SendMsg
	SendP2PMsg
	SendAddressAd
	SendAddressQuery

	ReceiveACK
	ReceiveFailed
	ReceiveTimestamp
	ReceiveNET
	ReceiveLTC
	ReceiveStopReq
	ReceiveStopReqRep
	ReceiveStopGrn
	ReceiveFedID
	ReceivePTAG
	ReceiveTAG
	ReceiveReject
	ReceiveResign
	ReceivePortAbsent
	ReceiveCloseReq
	ReceiveTaggedMsg
	ReceiveP2PTaggedMsg
	ReceiveMsg
	ReceiveP2PMsg
	ReceiveAddressAd
	ReceiveAddressQuery
	ReceiveUnidentified

	numEventTypes
)

var eventNames = []string{
	"Reaction starts",
	"Reaction ends",
	"Reaction deadline missed",
	"Schedule called",
	"User-defined event",
	"User-defined valued event",
	"Worker wait starts",
	"Worker wait ends",
	"Scheduler advancing time starts",
	"Scheduler advancing time ends",
	"Federated marker",
	"Sending ACK",
	"Sending FAILED",
	"Sending TIMESTAMP",
	"Sending NET",
	"Sending LTC",
	"Sending STOP_REQ",
	"Sending STOP_REQ_REP",
	"Sending STOP_GRN",
	"Sending FED_ID",
	"Sending PTAG",
	"Sending TAG",
	"Sending REJECT",
	"Sending RESIGN",
	"Sending PORT_ABS",
	"Sending CLOSE_RQ",
	"Sending TAGGED_MSG",
	"Sending P2P_TAGGED_MSG",
	"Sending MSG",
	"Sending P2P_MSG",
	"Sending ADR_AD",
	"Sending ADR_QR",
	"Receiving ACK",
	"Receiving FAILED",
	"Receiving TIMESTAMP",
	"Receiving NET",
	"Receiving LTC",
	"Receiving STOP_REQ",
	"Receiving STOP_REQ_REP",
	"Receiving STOP_GRN",
	"Receiving FED_ID",
	"Receiving PTAG",
	"Receiving TAG",
	"Receiving REJECT",
	"Receiving RESIGN",
	"Receiving PORT_ABS",
	"Receiving CLOSE_RQ",
	"Receiving TAGGED_MSG",
	"Receiving P2P_TAGGED_MSG",
	"Receiving MSG",
	"Receiving P2P_MSG",
	"Receiving ADR_AD",
	"Receiving ADR_QR",
	"Receiving UNIDENTIFIED",
}

func (e EventType) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("EventType(%d)", int32(e))
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool { return e >= 0 && e < numEventTypes }

// Record is one trace entry. Pointer and Trigger are object ids from
// the header table; SrcID and DstID carry the worker or federate ids,
// -1 when not applicable. For valued user events the value travels in
// ExtraDelay.
type Record struct {
	EventType    EventType
	Pointer      uint64
	SrcID        int32
	DstID        int32
	LogicalTime  int64
	Microstep    uint32
	PhysicalTime int64
	Trigger      uint64
	ExtraDelay   int64
}

// recordSize is the encoded size of one Record in bytes.
const recordSize = 4 + 8 + 4 + 4 + 8 + 4 + 8 + 8 + 8

// BufferCapacity is the number of records buffered per worker before a
// flush.
const BufferCapacity = 2048

// Object is one entry of the header table, mapping a runtime object id
// to its description.
type Object struct {
	Pointer     uint64
	Description string
}
