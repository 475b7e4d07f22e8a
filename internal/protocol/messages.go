package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// SampleMessage is the wire format for one vitals reading on the
// samples topic. Coordinates and timestamp are optional; a missing
// timestamp defaults to receipt time at the ingest service.
type SampleMessage struct {
	MessageID  string    `json:"message_id"`
	SubjectID  string    `json:"subject_id"`
	HeartRate  *int      `json:"heart_rate"`
	Systolic   *int      `json:"systolic_bp"`
	Diastolic  *int      `json:"diastolic_bp"`
	Latitude   *float64  `json:"lat,omitempty"`
	Longitude  *float64  `json:"lon,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks the required fields. Malformed messages are rejected
// before they reach the cache.
func (m *SampleMessage) Validate() error {
	if m.SubjectID == "" {
		return fmt.Errorf("missing required field: subject_id")
	}
	if m.HeartRate == nil {
		return fmt.Errorf("missing required field: heart_rate")
	}
	if m.Systolic == nil {
		return fmt.Errorf("missing required field: systolic_bp")
	}
	if m.Diastolic == nil {
		return fmt.Errorf("missing required field: diastolic_bp")
	}
	if m.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, m.Timestamp); err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", m.Timestamp, err)
		}
	}
	return nil
}

// EffectiveTimestamp returns the sample's own timestamp, falling back
// to the receipt time when the producer did not supply one.
func (m *SampleMessage) EffectiveTimestamp() time.Time {
	if m.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
			return ts
		}
	}
	return m.ReceivedAt
}

// RiskAlert is the message format for high-risk assessment notifications.
type RiskAlert struct {
	SubjectID    string    `json:"subject_id"`
	Day          time.Time `json:"day"`
	RiskScore    float64   `json:"risk_score"`
	RiskLabel    string    `json:"risk_label"`
	RiskLevel    int       `json:"risk_level"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
	AvgHeartRate float64   `json:"avg_heart_rate"`
	AlertCount   int       `json:"alert_count"`
}

// EncodeSampleMessage encodes a SampleMessage to JSON.
func EncodeSampleMessage(msg *SampleMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeSampleMessage decodes JSON to SampleMessage.
func DecodeSampleMessage(data []byte) (*SampleMessage, error) {
	var msg SampleMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeRiskAlert encodes a RiskAlert to JSON.
func EncodeRiskAlert(alert *RiskAlert) ([]byte, error) {
	return json.Marshal(alert)
}

// DecodeRiskAlert decodes JSON to RiskAlert.
func DecodeRiskAlert(data []byte) (*RiskAlert, error) {
	var alert RiskAlert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}
