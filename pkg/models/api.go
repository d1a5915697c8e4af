package models

// ErrorType classifies API errors for clients.
type ErrorType string

const (
	ValidationErrorType ErrorType = "ValidationError"
	NotFoundErrorType   ErrorType = "NotFoundError"
	ConflictErrorType   ErrorType = "ConflictError"
	GeneralErrorType    ErrorType = "GeneralError"
)

// APIResponse is the envelope for every HTTP API response.
type APIResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorType ErrorType `json:"error_type,omitempty"`
}

// AcknowledgeRequest is the body of an acknowledge call.
type AcknowledgeRequest struct {
	UserID string `json:"user_id"`
	Note   string `json:"note"`
}

// ResolveRequest is the body of a resolve call.
type ResolveRequest struct {
	UserID string `json:"user_id"`
	Note   string `json:"note"`
}

// EmergencyResetRequest is the body of an emergency reset call.
type EmergencyResetRequest struct {
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
}

// EmergencyTriggerRequest describes a manually declared emergency.
type EmergencyTriggerRequest struct {
	Level              EmergencyLevel `json:"level"`
	Trigger            string         `json:"trigger"`
	Description        string         `json:"description"`
	Location           string         `json:"location,omitempty"`
	Sensors            SensorSnapshot `json:"sensors,omitempty"`
	RequiresEvacuation bool           `json:"requires_evacuation"`
}

// EmergencyEvaluation reports the outcome of classifying a sensor snapshot.
type EmergencyEvaluation struct {
	Event     *EmergencyEvent `json:"event,omitempty"`
	Triggered bool            `json:"triggered"`
}
