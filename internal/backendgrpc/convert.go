package backendgrpc

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/sessiondeck/schema"
)

func toPBConnect(req schema.BackendConnectRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"server_id":   structpb.NewStringValue(string(req.ServerID)),
		"password":    structpb.NewStringValue(req.Credentials.Password),
		"private_key": structpb.NewStringValue(req.Credentials.PrivateKey),
		"passphrase":  structpb.NewStringValue(req.Credentials.Passphrase),
	}}
}

func fromPBConnect(in *structpb.Struct) schema.BackendConnectRequest {
	return schema.BackendConnectRequest{
		ServerID: schema.ServerID(stringField(in, "server_id")),
		Credentials: schema.Credentials{
			Password:   stringField(in, "password"),
			PrivateKey: stringField(in, "private_key"),
			Passphrase: stringField(in, "passphrase"),
		},
	}
}

func sessionStruct(sessionID schema.SessionID) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(string(sessionID)),
	}}
}

func inputStruct(sessionID schema.SessionID, data []byte) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(string(sessionID)),
		"data":       structpb.NewStringValue(base64.StdEncoding.EncodeToString(data)),
	}}
}

func toPBInputResponse(resp schema.InputResponse) *structpb.Struct {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		"eof": structpb.NewBoolValue(resp.EOF),
	}}
	if len(resp.Data) > 0 {
		out.Fields["data"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(resp.Data))
	}
	return out
}

func fromPBInputResponse(in *structpb.Struct) (schema.InputResponse, error) {
	data, err := bytesField(in, "data")
	if err != nil {
		return schema.InputResponse{}, err
	}
	return schema.InputResponse{Data: data, EOF: boolField(in, "eof")}, nil
}

func toPBResize(req schema.ResizeRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(string(req.SessionID)),
		"cols":       structpb.NewNumberValue(float64(req.Cols)),
		"rows":       structpb.NewNumberValue(float64(req.Rows)),
	}}
}

func fromPBResize(in *structpb.Struct) schema.ResizeRequest {
	return schema.ResizeRequest{
		SessionID: schema.SessionID(stringField(in, "session_id")),
		Cols:      intField(in, "cols"),
		Rows:      intField(in, "rows"),
	}
}

func toPBOutputEvent(event schema.OutputEvent) *structpb.Struct {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(string(event.SessionID)),
		"eof":        structpb.NewBoolValue(event.EOF),
	}}
	if len(event.Data) > 0 {
		out.Fields["data"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(event.Data))
	}
	return out
}

func fromPBOutputEvent(in *structpb.Struct) (schema.OutputEvent, error) {
	data, err := bytesField(in, "data")
	if err != nil {
		return schema.OutputEvent{}, err
	}
	return schema.OutputEvent{
		SessionID: schema.SessionID(stringField(in, "session_id")),
		Data:      data,
		EOF:       boolField(in, "eof"),
	}, nil
}

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}

func boolField(in *structpb.Struct, key string) bool {
	if in == nil {
		return false
	}
	return in.GetFields()[key].GetBoolValue()
}

func intField(in *structpb.Struct, key string) int {
	if in == nil {
		return 0
	}
	return int(in.GetFields()[key].GetNumberValue())
}

func bytesField(in *structpb.Struct, key string) ([]byte, error) {
	raw := stringField(in, key)
	if raw == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return data, nil
}
