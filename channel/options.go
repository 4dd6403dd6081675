package channel

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mailru/easyjson/jlexer"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
)

// Ключи опций канала.
const (
	OptKeepaliveTime           = "grpc.keepalive_time_ms"
	OptKeepaliveTimeout        = "grpc.keepalive_timeout_ms"
	OptKeepalivePermitNoCalls  = "grpc.keepalive_permit_without_calls"
	OptMaxReceiveMessageLength = "grpc.max_receive_message_length"
	OptMaxSendMessageLength    = "grpc.max_send_message_length"
	OptPrimaryUserAgent        = "grpc.primary_user_agent"
	OptDefaultAuthority        = "grpc.default_authority"
	OptServiceConfig           = "grpc.service_config"
	OptInitialWindowSize       = "grpc.http2.initial_window_size"
	OptCompression             = "grpc.default_compression_algorithm"
	OptMaxMetadataSize         = "grpc.max_metadata_size"
)

// Options is the string-keyed channel option map. Values are kept as strings
// and interpreted per key.
type Options map[string]string

// ParseOptions reads a flat JSON object. Numbers are kept in decimal form,
// booleans become "1"/"0", null and nested values are skipped.
func ParseOptions(data []byte) (Options, error) {
	opts := Options{}
	if len(data) == 0 {
		return opts, nil
	}
	in := jlexer.Lexer{Data: data}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()
		switch v := in.Interface().(type) {
		case string:
			opts[key] = v
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				opts[key] = strconv.FormatInt(int64(v), 10)
			} else {
				opts[key] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		case bool:
			if v {
				opts[key] = "1"
			} else {
				opts[key] = "0"
			}
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()
	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("parse channel options json: %w", err)
	}
	return opts, nil
}

// settings is what the option map resolves to.
type settings struct {
	dial            []grpc.DialOption
	call            []grpc.CallOption
	maxMetadataSize uint32
}

func (o Options) resolve(log *zap.Logger) (settings, error) {
	var (
		s       settings
		ka      keepalive.ClientParameters
		kaSet   bool
		callDef []grpc.CallOption
	)
	for key, raw := range o {
		switch key {
		case OptKeepaliveTime, OptKeepaliveTimeout:
			ms, err := o.int(key, 0, math.MaxInt32)
			if err != nil {
				return s, err
			}
			d := time.Duration(ms) * time.Millisecond
			if key == OptKeepaliveTime {
				ka.Time = d
			} else {
				ka.Timeout = d
			}
			kaSet = true
		case OptKeepalivePermitNoCalls:
			v, err := o.int(key, 0, 1)
			if err != nil {
				return s, err
			}
			ka.PermitWithoutStream = v == 1
			kaSet = true
		case OptMaxReceiveMessageLength, OptMaxSendMessageLength:
			v, err := o.int(key, 0, math.MaxInt32)
			if err != nil {
				return s, err
			}
			if key == OptMaxReceiveMessageLength {
				callDef = append(callDef, grpc.MaxCallRecvMsgSize(int(v)))
			} else {
				callDef = append(callDef, grpc.MaxCallSendMsgSize(int(v)))
			}
		case OptPrimaryUserAgent:
			s.dial = append(s.dial, grpc.WithUserAgent(raw))
		case OptDefaultAuthority:
			s.dial = append(s.dial, grpc.WithAuthority(raw))
		case OptServiceConfig:
			s.dial = append(s.dial, grpc.WithDefaultServiceConfig(raw))
		case OptInitialWindowSize:
			v, err := o.int(key, 1<<16, math.MaxInt32)
			if err != nil {
				return s, err
			}
			s.dial = append(s.dial, grpc.WithInitialWindowSize(int32(v)), grpc.WithInitialConnWindowSize(int32(v)))
		case OptCompression:
			switch raw {
			case "gzip", "2":
				s.call = append(s.call, grpc.UseCompressor(gzip.Name))
			case "identity", "none", "0", "":
			default:
				return s, fmt.Errorf("%w: %s: unsupported compression %q", ErrBadOption, key, raw)
			}
		case OptMaxMetadataSize:
			v, err := o.int(key, 1, math.MaxUint32)
			if err != nil {
				return s, err
			}
			s.maxMetadataSize = uint32(v)
			s.dial = append(s.dial, grpc.WithMaxHeaderListSize(uint32(v)))
		default:
			log.Warn("unknown channel option ignored", zap.String("key", key), zap.String("value", raw))
		}
	}
	if kaSet {
		s.dial = append(s.dial, grpc.WithKeepaliveParams(ka))
	}
	if len(callDef) > 0 {
		s.dial = append(s.dial, grpc.WithDefaultCallOptions(callDef...))
	}
	return s, nil
}

func (o Options) int(key string, lo, hi int64) (int64, error) {
	v, err := strconv.ParseInt(o[key], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrBadOption, key, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %s: %d out of range [%d, %d]", ErrBadOption, key, v, lo, hi)
	}
	return v, nil
}
