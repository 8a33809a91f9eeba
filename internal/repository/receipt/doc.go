// Package receipt implements persistence for the provisioning Receipt.
//
// The FileRepository stores and loads the receipt as protobuf JSON on disk,
// using a structpb.Struct as the wire message so operators and other tools can
// read it with any JSON parser.
package receipt
