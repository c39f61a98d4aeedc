// Package authv1 holds the AuthService protobuf messages and gRPC bindings
// generated from auth.proto.
package authv1

//go:generate protoc -I ../.. --go_out=../.. --go_opt=paths=source_relative --go-grpc_out=../.. --go-grpc_opt=paths=source_relative auth/v1/auth.proto
