package retrieval

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// retrieverServer is the server side of the retrieval service, served over
// bufconn in tests.
type retrieverServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var retrieverServiceDesc = grpc.ServiceDesc{
	ServiceName: RetrieverService,
	HandlerType: (*retrieverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "retrieval/v1/retriever.proto",
}

func registerRetrieverServer(s grpc.ServiceRegistrar, srv retrieverServer) {
	s.RegisterService(&retrieverServiceDesc, srv)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(retrieverServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(retrieverServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// encodeHits builds the response message for hits.
func encodeHits(hits []Hit) (*structpb.Struct, error) {
	docs := make([]any, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, map[string]any{
			"content": h.Content,
			"score":   h.Score,
			"meta": map[string]any{
				"title":     h.Title,
				"file_path": h.Path,
				"source_id": h.SourceID,
			},
		})
	}
	return structpb.NewStruct(map[string]any{"documents": docs})
}
