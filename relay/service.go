package relay

import (
	"google.golang.org/grpc"
)

// gRPC surface of the relay. Messages are google.protobuf.BytesValue, one per
// chunk of the byte stream, so no generated stubs are needed.
const (
	ServiceName    = "csrbridge.relay.v1.Relay"
	ExchangeMethod = "/" + ServiceName + "/Exchange"
)

// ExchangeStreamDesc describes the bidirectional Exchange stream for clients.
var ExchangeStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	ServerStreams: true,
	ClientStreams: true,
}

// ExchangeServer is implemented by *Server.
type ExchangeServer interface {
	Exchange(stream grpc.ServerStream) error
}

func exchangeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ExchangeServer).Exchange(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    ExchangeStreamDesc.StreamName,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "csrbridge/relay/v1/relay.proto",
}

// RegisterGRPC registers the relay service on a grpc.Server.
func RegisterGRPC(gs *grpc.Server, srv ExchangeServer) {
	gs.RegisterService(&serviceDesc, srv)
}
