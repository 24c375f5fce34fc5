// Package cql implements frame parsing and request/response stitching
// for the CQL (Cassandra query language) binary protocol, following
// the native-protocol v3/v4 wire format.
package cql

// Opcode is the raw byte identifying a CQL frame's message type. Both
// requests and responses are tagged with the same opcode space; which
// ones are legal on which side is enforced by ProcessReq/ProcessResp.
type Opcode byte

const (
	OpError         Opcode = 0x00
	OpStartup       Opcode = 0x01
	OpReady         Opcode = 0x02
	OpAuthenticate  Opcode = 0x03
	OpOptions       Opcode = 0x05
	OpSupported     Opcode = 0x06
	OpQuery         Opcode = 0x07
	OpResult        Opcode = 0x08
	OpPrepare       Opcode = 0x09
	OpExecute       Opcode = 0x0A
	OpRegister      Opcode = 0x0B
	OpEvent         Opcode = 0x0C
	OpBatch         Opcode = 0x0D
	OpAuthChallenge Opcode = 0x0E
	OpAuthResponse  Opcode = 0x0F
	OpAuthSuccess   Opcode = 0x10
)

func (o Opcode) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpStartup:
		return "STARTUP"
	case OpReady:
		return "READY"
	case OpAuthenticate:
		return "AUTHENTICATE"
	case OpOptions:
		return "OPTIONS"
	case OpSupported:
		return "SUPPORTED"
	case OpQuery:
		return "QUERY"
	case OpResult:
		return "RESULT"
	case OpPrepare:
		return "PREPARE"
	case OpExecute:
		return "EXECUTE"
	case OpRegister:
		return "REGISTER"
	case OpEvent:
		return "EVENT"
	case OpBatch:
		return "BATCH"
	case OpAuthChallenge:
		return "AUTH_CHALLENGE"
	case OpAuthResponse:
		return "AUTH_RESPONSE"
	case OpAuthSuccess:
		return "AUTH_SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// reqOpcodes and respOpcodes are the closed sets ProcessReq/ProcessResp
// will dispatch on; anything else is an unhandled-opcode error, same
// as the original's magic_enum-backed switch default.
var reqOpcodes = map[Opcode]bool{
	OpStartup:      true,
	OpAuthResponse: true,
	OpOptions:      true,
	OpQuery:        true,
	OpPrepare:      true,
	OpExecute:      true,
	OpBatch:        true,
	OpRegister:     true,
}

var respOpcodes = map[Opcode]bool{
	OpError:         true,
	OpReady:         true,
	OpAuthenticate:  true,
	OpSupported:     true,
	OpResult:        true,
	OpEvent:         true,
	OpAuthChallenge: true,
	OpAuthSuccess:   true,
}
