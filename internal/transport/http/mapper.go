package http

import (
	"encoding/json"
	"errors"

	"github.com/vovakirdan/feelings/internal/proto"
	"github.com/vovakirdan/feelings/internal/realtime"
)

func decodeData(inbound proto.Inbound, out any) *proto.Error {
	if len(inbound.Data) == 0 {
		return &proto.Error{Code: proto.CodeBadRequest, Msg: "data is required"}
	}
	if err := json.Unmarshal(inbound.Data, out); err != nil {
		return &proto.Error{Code: proto.CodeBadRequest, Msg: "malformed data: " + err.Error()}
	}
	return nil
}

func decodePath(inbound proto.Inbound) (string, *proto.Error) {
	var data proto.PathData
	if protoErr := decodeData(inbound, &data); protoErr != nil {
		return "", protoErr
	}
	if data.Path == "" {
		return "", &proto.Error{Code: proto.CodeBadRequest, Msg: "path is required"}
	}
	return data.Path, nil
}

func decodeSet(inbound proto.Inbound) (proto.SetData, *proto.Error) {
	var data proto.SetData
	if protoErr := decodeData(inbound, &data); protoErr != nil {
		return data, protoErr
	}
	if data.Path == "" {
		return data, &proto.Error{Code: proto.CodeBadRequest, Msg: "path is required"}
	}
	return data, nil
}

func storeError(err error) *proto.Error {
	if errors.Is(err, realtime.ErrInvalidPath) {
		return &proto.Error{Code: proto.CodeBadRequest, Msg: err.Error()}
	}
	return &proto.Error{Code: proto.CodeStoreError, Msg: err.Error()}
}

func resultOutbound(id string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeResult, ID: id, Data: data}
}

func errorOutbound(id string, protoErr *proto.Error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, ID: id, Error: protoErr}
}

func snapshotOutbound(sub string, snap realtime.Snapshot) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeSnapshot, Sub: sub, Data: snap}
}
