package server

import (
	"encoding/json"
	"fmt"
	"reflect"

	"evcsms/ocpp"
	"evcsms/ocpp/core"
	"evcsms/utility"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

// Message is one decoded OCPP-J frame. Which fields are meaningful depends
// on TypeId: CALL carries Action and Payload, CALLRESULT only Payload,
// CALLERROR the error triple.
type Message struct {
	TypeId           CallType
	UniqueId         string
	Action           string
	Payload          interface{}
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     interface{}
}

// ParseMessage decodes the 3-or-4-element OCPP-J array. It fails on
// non-JSON input, a non-array, an unknown type tag, or too few elements for
// the declared type; it does not validate payload contents. A CALL without
// the payload element is legal, some chargers omit it on Heartbeat.
func ParseMessage(data []byte) (*Message, error) {
	fields, err := utility.ParseJson(data)
	if err != nil {
		return nil, utility.Err(fmt.Sprintf("malformed json: %s", err))
	}
	if len(fields) == 0 {
		return nil, utility.Err("empty message array")
	}
	rawTypeId, ok := fields[0].(float64)
	if !ok {
		return nil, utility.Err("invalid message type id")
	}
	message := &Message{TypeId: CallType(rawTypeId)}
	switch message.TypeId {
	case CallTypeRequest:
		if len(fields) < 3 {
			return nil, utility.Err("call message is too short")
		}
		message.UniqueId, ok = fields[1].(string)
		if !ok {
			return nil, utility.Err("invalid unique id in call message")
		}
		message.Action, ok = fields[2].(string)
		if !ok {
			return nil, utility.Err("invalid action in call message")
		}
		if len(fields) > 3 {
			message.Payload = fields[3]
		}
	case CallTypeResult:
		if len(fields) < 2 {
			return nil, utility.Err("call result message is too short")
		}
		message.UniqueId, ok = fields[1].(string)
		if !ok {
			return nil, utility.Err("invalid unique id in call result message")
		}
		if len(fields) > 2 {
			message.Payload = fields[2]
		}
	case CallTypeError:
		if len(fields) < 3 {
			return nil, utility.Err("call error message is too short")
		}
		message.UniqueId, ok = fields[1].(string)
		if !ok {
			return nil, utility.Err("invalid unique id in call error message")
		}
		message.ErrorCode, _ = fields[2].(string)
		if len(fields) > 3 {
			message.ErrorDescription, _ = fields[3].(string)
		}
		if len(fields) > 4 {
			message.ErrorDetails = fields[4]
		}
	default:
		return nil, utility.Err(fmt.Sprintf("unknown message type id: %v", rawTypeId))
	}
	return message, nil
}

// CallResult An OCPP-J CallResult message, containing an OCPP Response.
type CallResult struct {
	UniqueId string
	Payload  interface{}
}

func (callResult *CallResult) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 3)
	fields[0] = int(CallTypeResult)
	fields[1] = callResult.UniqueId
	fields[2] = callResult.Payload
	return json.Marshal(fields)
}

func CreateCallResult(confirmation interface{}, uniqueId string) *CallResult {
	return &CallResult{
		UniqueId: uniqueId,
		Payload:  confirmation,
	}
}

type CallRequest struct {
	UniqueId string
	Action   string
	Payload  interface{}
}

func (callRequest *CallRequest) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 4)
	fields[0] = int(CallTypeRequest)
	fields[1] = callRequest.UniqueId
	fields[2] = callRequest.Action
	if callRequest.Payload != nil {
		fields[3] = callRequest.Payload
	} else {
		fields[3] = struct{}{}
	}
	return json.Marshal(fields)
}

func CreateCallRequest(request ocpp.Request, uniqueId string) *CallRequest {
	return &CallRequest{
		UniqueId: uniqueId,
		Action:   request.GetFeatureName(),
		Payload:  request,
	}
}

type CallError struct {
	UniqueId         string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     interface{}
}

func (callError *CallError) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 5)
	fields[0] = int(CallTypeError)
	fields[1] = callError.UniqueId
	fields[2] = callError.ErrorCode
	fields[3] = callError.ErrorDescription
	if callError.ErrorDetails != nil {
		fields[4] = callError.ErrorDetails
	} else {
		fields[4] = struct{}{}
	}
	return json.Marshal(fields)
}

// ParseCallRequest resolves a CALL into the typed request for its action.
// The request is nil for actions outside the Core profile; those still get
// a generic acknowledgement from the dispatcher.
func ParseCallRequest(message *Message) (ocpp.Request, error) {
	requestType := getRequestType(message.Action)
	if requestType == nil {
		return nil, nil
	}
	return ocpp.ParseRawJsonRequest(message.Payload, requestType)
}

func getRequestType(action string) reflect.Type {
	switch action {
	case core.BootNotificationFeatureName:
		return reflect.TypeOf(core.BootNotificationRequest{})
	case core.AuthorizeFeatureName:
		return reflect.TypeOf(core.AuthorizeRequest{})
	case core.HeartbeatFeatureName:
		return reflect.TypeOf(core.HeartbeatRequest{})
	case core.StartTransactionFeatureName:
		return reflect.TypeOf(core.StartTransactionRequest{})
	case core.StopTransactionFeatureName:
		return reflect.TypeOf(core.StopTransactionRequest{})
	case core.MeterValuesFeatureName:
		return reflect.TypeOf(core.MeterValuesRequest{})
	case core.StatusNotificationFeatureName:
		return reflect.TypeOf(core.StatusNotificationRequest{})
	default:
		return nil
	}
}
