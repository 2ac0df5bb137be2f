package ipc

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/moviola-io/moviola/types"
)

// Message type discriminants. Every wire message carries a "type" field;
// decoding peeks at it before committing to a concrete struct.
const (
	// TypeHello is the engine's handshake: script path plus protocol
	// version. The host answers with a node list.
	TypeHello = "hello"
	// TypeListNodes asks the host to re-evaluate the script and return
	// the current node list.
	TypeListNodes = "list_nodes"
	// TypeRenderFrame asks the host to decode one frame.
	TypeRenderFrame = "render_frame"
	// TypeNodeList is the host's node metadata response.
	TypeNodeList = "node_list"
	// TypeFrame is the host's decoded frame response.
	TypeFrame = "frame"
	// TypeError is the host's failure response to any request.
	TypeError = "error"
	// TypeLog is an unsolicited host-side log line.
	TypeLog = "log"
)

// ProtocolVersion is negotiated in the hello handshake. The host refuses
// a major version it does not speak.
const ProtocolVersion = "1"

// Hello is the engine's first message after spawning a host.
type Hello struct {
	Type       string `msgpack:"type"`
	Version    string `msgpack:"version"`
	ScriptPath string `msgpack:"script_path"`
}

// Request is an engine request to the host. Node and Index are only
// meaningful for TypeRenderFrame.
type Request struct {
	Type      string `msgpack:"type"`
	RequestID uint64 `msgpack:"request_id"`
	Node      int    `msgpack:"node,omitempty"`
	Index     int    `msgpack:"index,omitempty"`
}

// NodeInfo is the wire form of one output node's metadata.
type NodeInfo struct {
	ID         int    `msgpack:"id"`
	Title      string `msgpack:"title,omitempty"`
	FrameCount int    `msgpack:"frame_count"`
	FPSNum     int64  `msgpack:"fps_num"`
	FPSDen     int64  `msgpack:"fps_den"`
	Width      int    `msgpack:"width"`
	Height     int    `msgpack:"height"`
	Format     string `msgpack:"format"`
	AudioNode  *int   `msgpack:"audio_node,omitempty"`
}

// Output converts wire metadata to the engine's node type.
func (n NodeInfo) Output() types.OutputNode {
	node := types.OutputNode{
		ID:         types.NodeID(n.ID),
		Title:      n.Title,
		FrameCount: n.FrameCount,
		FPS:        types.Rational{Num: n.FPSNum, Den: n.FPSDen},
		Width:      n.Width,
		Height:     n.Height,
		Format:     n.Format,
	}
	if n.AudioNode != nil {
		id := types.NodeID(*n.AudioNode)
		node.AudioNode = &id
	}
	return node
}

// NodeInfoFrom converts engine metadata to its wire form.
func NodeInfoFrom(node types.OutputNode) NodeInfo {
	info := NodeInfo{
		ID:         int(node.ID),
		Title:      node.Title,
		FrameCount: node.FrameCount,
		FPSNum:     node.FPS.Num,
		FPSDen:     node.FPS.Den,
		Width:      node.Width,
		Height:     node.Height,
		Format:     node.Format,
	}
	if node.AudioNode != nil {
		id := int(*node.AudioNode)
		info.AudioNode = &id
	}
	return info
}

// NodeList is the host's response to a hello or list_nodes request.
type NodeList struct {
	Type      string     `msgpack:"type"`
	RequestID uint64     `msgpack:"request_id"`
	Nodes     []NodeInfo `msgpack:"nodes"`
}

// FrameResponse is the host's decoded frame. Pixels is the raw payload;
// the engine treats it as opaque.
type FrameResponse struct {
	Type      string           `msgpack:"type"`
	RequestID uint64           `msgpack:"request_id"`
	Node      int              `msgpack:"node"`
	Index     int              `msgpack:"index"`
	Stride    int              `msgpack:"stride"`
	Format    string           `msgpack:"format"`
	Props     types.FrameProps `msgpack:"props,omitempty"`
	Pixels    []byte           `msgpack:"pixels"`
}

// ErrorResponse is the host's failure response to a request.
type ErrorResponse struct {
	Type      string `msgpack:"type"`
	RequestID uint64 `msgpack:"request_id"`
	Message   string `msgpack:"message"`
}

// LogMessage is an unsolicited host log line forwarded to engine logging.
type LogMessage struct {
	Type    string `msgpack:"type"`
	Level   string `msgpack:"level"`
	Message string `msgpack:"message"`
}

// Encode marshals any wire message to a msgpack payload.
func Encode(msg any) ([]byte, error) {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to encode message",
			Err:  err,
		}
	}
	return payload, nil
}

// typeProbe peeks at the type field without a full decode.
type typeProbe struct {
	Type string `msgpack:"type"`
}

// Decode decodes a payload into the concrete message for its type field.
func Decode(payload []byte) (any, error) {
	var probe typeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode message type",
			Err:  err,
		}
	}

	switch probe.Type {
	case TypeHello:
		return decodeAs[Hello](payload)
	case TypeListNodes, TypeRenderFrame:
		return decodeAs[Request](payload)
	case TypeNodeList:
		return decodeAs[NodeList](payload)
	case TypeFrame:
		return decodeAs[FrameResponse](payload)
	case TypeError:
		return decodeAs[ErrorResponse](payload)
	case TypeLog:
		return decodeAs[LogMessage](payload)
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "unknown message type " + probe.Type,
		}
	}
}

func decodeAs[T any](payload []byte) (*T, error) {
	var msg T
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode message",
			Err:  err,
		}
	}
	return &msg, nil
}
