package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎大模型流式识别使用的二进制帧:
//
//	byte0: version(4) | header size in 4-byte words(4)
//	byte1: message type(4) | flags(4)
//	byte2: serialization(4) | compression(4)
//	byte3: reserved
//	[sequence int32]  flags 含序号时
//	[error code uint32] 仅错误帧
//	payload size uint32, payload
const protocolVersion = 0b0001

// MessageType 帧类型
type MessageType uint8

const (
	FullClientRequest  MessageType = 0b0001
	AudioOnlyRequest   MessageType = 0b0010
	FullServerResponse MessageType = 0b1001
	ServerAck          MessageType = 0b1011
	ErrorMessage       MessageType = 0b1111
)

// MessageFlags 序号标志
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
)

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

var errShortFrame = errors.New("asr frame truncated")

// Frame 是一条解码后的协议消息。
type Frame struct {
	Type          MessageType
	Flags         MessageFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
	Sequence      int32
	ErrorCode     uint32
	Payload       []byte
}

func (f *Frame) hasSequence() bool {
	return f.Flags == PositiveSequenceNumber || f.Flags == NegativeSequenceNumber
}

// IsLast 判断是否为最后一包
func (f *Frame) IsLast() bool {
	return f.Flags == LastPacketNoSequence || f.Flags == NegativeSequenceNumber
}

// Marshal 编码为二进制帧，payload 原样写入（调用方负责压缩）。
func (f *Frame) Marshal() []byte {
	out := make([]byte, 0, 12+len(f.Payload))
	out = append(out,
		protocolVersion<<4|0b0001,
		uint8(f.Type)<<4|uint8(f.Flags&0x0F),
		uint8(f.Serialization)<<4|uint8(f.Compression),
		0x00,
	)
	if f.hasSequence() {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Sequence))
	}
	if f.Type == ErrorMessage {
		out = binary.BigEndian.AppendUint32(out, f.ErrorCode)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(f.Payload)))
	return append(out, f.Payload...)
}

// UnmarshalFrame 解码一条完整帧。
func UnmarshalFrame(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("header: %w", errShortFrame)
	}
	if version := data[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, fmt.Errorf("extended header: %w", errShortFrame)
	}

	f := &Frame{
		Type:          MessageType(data[1] >> 4),
		Flags:         MessageFlags(data[1] & 0x0F),
		Serialization: SerializationMethod(data[2] >> 4),
		Compression:   CompressionMethod(data[2] & 0x0F),
	}
	rest := data[headerSize:]

	next := func(field string) (uint32, error) {
		if len(rest) < 4 {
			return 0, fmt.Errorf("%s: %w", field, errShortFrame)
		}
		v := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		return v, nil
	}

	if f.hasSequence() {
		seq, err := next("sequence")
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(seq)
	}
	if f.Type == ErrorMessage {
		code, err := next("error code")
		if err != nil {
			return nil, err
		}
		f.ErrorCode = code
	}
	size, err := next("payload size")
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < size {
		return nil, fmt.Errorf("payload (expected %d bytes, got %d): %w", size, len(rest), errShortFrame)
	}
	f.Payload = rest[:size]
	return f, nil
}

// Body 返回解压后的 payload。
func (f *Frame) Body() ([]byte, error) {
	return decompress(f.Payload, f.Compression)
}

// newClientRequest 创建携带 JSON 参数的首帧。
func newClientRequest(params []byte) (*Frame, error) {
	payload, err := compress(params, GzipCompression)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:          FullClientRequest,
		Flags:         NoSequenceNumber,
		Serialization: JSONSerialization,
		Compression:   GzipCompression,
		Payload:       payload,
	}, nil
}

// newAudioRequest 创建音频帧；最后一包使用负序号。
func newAudioRequest(chunk []byte, sequence int32, last bool) (*Frame, error) {
	payload, err := compress(chunk, GzipCompression)
	if err != nil {
		return nil, err
	}
	flags := PositiveSequenceNumber
	if last {
		flags = NegativeSequenceNumber
		sequence = -sequence
	}
	return &Frame{
		Type:          AudioOnlyRequest,
		Flags:         flags,
		Serialization: NoSerialization,
		Compression:   GzipCompression,
		Sequence:      sequence,
		Payload:       payload,
	}, nil
}

func compress(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}

func decompress(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}
