package ocpp

import (
	"encoding/json"
	"reflect"
)

// Request is a message initiated by the charge point (or, for
// RemoteStopTransaction, by the central system).
type Request interface {
	// GetFeatureName Returns the unique name of the feature, to which this request belongs to.
	GetFeatureName() string
}

// Response message
type Response interface {
	// GetFeatureName Returns the unique name of the feature, to which this request belongs to.
	GetFeatureName() string
}

// ParseRawJsonRequest decodes an untyped payload into the typed request for
// its action. Absent fields keep their zero values; a nil payload is treated
// as an empty object, as chargers omit the payload element on some actions.
func ParseRawJsonRequest(raw interface{}, requestType reflect.Type) (Request, error) {
	if raw == nil {
		raw = &struct{}{}
	}
	bytes, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	request := reflect.New(requestType).Interface()
	err = json.Unmarshal(bytes, &request)
	if err != nil {
		return nil, err
	}
	result := request.(Request)
	return result, nil
}
